package services

import (
	"fmt"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
)

// PlatformType представляет тип платформы
type PlatformType string

const (
	PlatformTikTok        PlatformType = "tiktok"
	PlatformYouTubeShorts PlatformType = "youtube_shorts"
	PlatformInstagram     PlatformType = "instagram"
	PlatformVK            PlatformType = "vkontakte"
	PlatformTwitter       PlatformType = "twitter"
	PlatformFacebook      PlatformType = "facebook"
	PlatformUnknown       PlatformType = "unknown"
)

// DefaultPlatforms - платформы коротких видео, включенные по умолчанию
var DefaultPlatforms = []PlatformType{PlatformTikTok, PlatformYouTubeShorts, PlatformInstagram}

// PlatformInfo содержит информацию о платформе
type PlatformInfo struct {
	Type        PlatformType
	URL         string // ссылка, найденная в тексте
	VideoID     string
	DisplayName string
	Icon        string
	Supported   bool
}

type platformPattern struct {
	platform PlatformType
	re       *regexp.Regexp
}

// PlatformDetector определяет платформу по ссылке
type PlatformDetector struct {
	patterns []platformPattern
	enabled  map[PlatformType]bool
}

// NewPlatformDetector создает детектор с набором включенных платформ
func NewPlatformDetector(enabled ...PlatformType) *PlatformDetector {
	if len(enabled) == 0 {
		enabled = DefaultPlatforms
	}

	raw := []struct {
		platform PlatformType
		pattern  string
	}{
		{PlatformTikTok, `tiktok\.com/@[^/]+/video/(\d+)`},
		{PlatformTikTok, `(?:vm|vt)\.tiktok\.com/([a-zA-Z0-9]+)`},
		{PlatformTikTok, `tiktok\.com/t/([a-zA-Z0-9]+)`},
		{PlatformYouTubeShorts, `youtube\.com/shorts/([a-zA-Z0-9_-]{11})`},
		{PlatformInstagram, `instagram\.com/(?:p|reel|reels|tv)/([a-zA-Z0-9_-]+)`},
		{PlatformVK, `vk\.com/(?:video|clip)(-?\d+_\d+)`},
		{PlatformTwitter, `(?:twitter|x)\.com/\w+/status/(\d+)`},
		{PlatformFacebook, `facebook\.com/(?:\w+/videos|reel)/(\d+)`},
		{PlatformFacebook, `fb\.watch/([a-zA-Z0-9_-]+)`},
	}

	pd := &PlatformDetector{enabled: make(map[PlatformType]bool, len(enabled))}
	for _, r := range raw {
		pd.patterns = append(pd.patterns, platformPattern{
			platform: r.platform,
			re:       regexp.MustCompile(`(?i)(?:^|[/.])` + r.pattern),
		})
	}
	for _, p := range enabled {
		pd.enabled[p] = true
	}
	return pd
}

// ParsePlatforms разбирает список платформ через запятую
func ParsePlatforms(list []string) ([]PlatformType, error) {
	known := map[PlatformType]bool{
		PlatformTikTok: true, PlatformYouTubeShorts: true, PlatformInstagram: true,
		PlatformVK: true, PlatformTwitter: true, PlatformFacebook: true,
	}

	var platforms []PlatformType
	for _, item := range list {
		p := PlatformType(strings.ToLower(strings.TrimSpace(item)))
		if p == "" {
			continue
		}
		if !known[p] {
			return nil, fmt.Errorf("неизвестная платформа: %s", p)
		}
		platforms = append(platforms, p)
	}
	return platforms, nil
}

// DetectPlatform определяет платформу по одной ссылке
func (pd *PlatformDetector) DetectPlatform(url string) *PlatformInfo {
	url = strings.TrimSpace(url)

	for _, p := range pd.patterns {
		matches := p.re.FindStringSubmatch(url)
		if len(matches) > 1 {
			return &PlatformInfo{
				Type:        p.platform,
				URL:         url,
				VideoID:     matches[1],
				DisplayName: displayName(p.platform),
				Icon:        icon(p.platform),
				Supported:   pd.enabled[p.platform],
			}
		}
	}

	return &PlatformInfo{
		Type:        PlatformUnknown,
		URL:         url,
		DisplayName: displayName(PlatformUnknown),
		Icon:        icon(PlatformUnknown),
	}
}

// FindLink ищет в тексте первую ссылку на поддерживаемую платформу.
// Ссылка без схемы дополняется https://.
func (pd *PlatformDetector) FindLink(text string) (*PlatformInfo, bool) {
	for _, token := range strings.Fields(text) {
		if !strings.Contains(token, ".") || !strings.Contains(token, "/") {
			continue
		}
		if !strings.Contains(token, "://") {
			token = "https://" + token
		}
		info := pd.DetectPlatform(token)
		if info.Supported && info.VideoID != "" {
			return info, true
		}
	}
	return nil, false
}

// IsValidURL проверяет, является ли URL валидным для любой включенной платформы
func (pd *PlatformDetector) IsValidURL(url string) bool {
	info := pd.DetectPlatform(url)
	return info.Supported && info.VideoID != ""
}

// SupportedPlatforms возвращает список включенных платформ
func (pd *PlatformDetector) SupportedPlatforms() []PlatformInfo {
	var platforms []PlatformInfo
	for _, p := range []PlatformType{PlatformTikTok, PlatformYouTubeShorts, PlatformInstagram, PlatformVK, PlatformTwitter, PlatformFacebook} {
		if pd.enabled[p] {
			platforms = append(platforms, PlatformInfo{
				Type:        p,
				DisplayName: displayName(p),
				Icon:        icon(p),
				Supported:   true,
			})
		}
	}
	return platforms
}

// YtDlpArgs возвращает аргументы yt-dlp для конкретной платформы
func YtDlpArgs(platform PlatformType) []string {
	args := []string{
		"--no-playlist",
		"--no-check-certificates",
		"--socket-timeout", "60",
		"--retries", "5",
		"--merge-output-format", "mp4",
	}

	switch platform {
	case PlatformTikTok:
		// Видео без водяного знака
		args = append(args,
			"--format", "bv*+ba/b",
			"--extractor-args", "tiktok:download_without_watermark=True",
		)
	case PlatformYouTubeShorts:
		args = append(args, "--format", "best[ext=mp4]/bv*[ext=mp4]+ba[ext=m4a]/b")
	default:
		args = append(args, "--format", "bv*+ba/b")
	}

	return args
}

// LogPlatformInfo логирует информацию о платформе
func (pd *PlatformDetector) LogPlatformInfo(info *PlatformInfo) {
	log.Debugf("🔍 Обнаружена платформа: %s %s, URL: %s, Video ID: %s, поддерживается: %v",
		info.Icon, info.DisplayName, info.URL, info.VideoID, info.Supported)
}

func displayName(platform PlatformType) string {
	names := map[PlatformType]string{
		PlatformTikTok:        "TikTok",
		PlatformYouTubeShorts: "YouTube Shorts",
		PlatformInstagram:     "Instagram",
		PlatformVK:            "VKontakte",
		PlatformTwitter:       "Twitter/X",
		PlatformFacebook:      "Facebook",
		PlatformUnknown:       "Неизвестная платформа",
	}
	return names[platform]
}

func icon(platform PlatformType) string {
	icons := map[PlatformType]string{
		PlatformTikTok:        "🎵",
		PlatformYouTubeShorts: "🎬",
		PlatformInstagram:     "📸",
		PlatformVK:            "🔵",
		PlatformTwitter:       "🐦",
		PlatformFacebook:      "📘",
		PlatformUnknown:       "❓",
	}
	return icons[platform]
}
