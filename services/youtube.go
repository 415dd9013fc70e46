package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kkdai/youtube/v2"
	log "github.com/sirupsen/logrus"
)

// YouTubeExtractor скачивает YouTube Shorts без внешних инструментов.
// Берет только прогрессивные mp4 форматы со звуком, чтобы не склеивать дорожки.
type YouTubeExtractor struct {
	client *youtube.Client
}

// NewYouTubeExtractor создает экстрактор. httpClient может быть nil.
func NewYouTubeExtractor(httpClient *http.Client) *YouTubeExtractor {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &YouTubeExtractor{
		client: &youtube.Client{HTTPClient: httpClient},
	}
}

func (y *YouTubeExtractor) Name() string { return "youtube" }

// Extract скачивает лучший прогрессивный mp4 формат в путь из шаблона
func (y *YouTubeExtractor) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	if req.OutputTemplate == "" {
		return nil, fmt.Errorf("не задан шаблон пути для скачивания")
	}

	video, err := y.client.GetVideoContext(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения информации о видео: %w", err)
	}

	format, err := pickProgressiveFormat(video.Formats)
	if err != nil {
		return nil, err
	}
	log.Debugf("🎬 Выбран формат itag=%d (%s) для %s", format.ItagNo, format.QualityLabel, video.ID)

	stream, _, err := y.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения потока: %w", err)
	}
	defer stream.Close()

	path := strings.Replace(req.OutputTemplate, "%(ext)s", "mp4", 1)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать папку для загрузок: %w", err)
	}

	if err := writeStream(path, stream); err != nil {
		return nil, err
	}

	log.Infof("✅ YouTube видео скачано: %s", filepath.Base(path))
	return &ExtractResult{
		FilePath: path,
		Metadata: VideoMetadata{
			ID:         video.ID,
			Title:      video.Title,
			Author:     video.Author,
			Duration:   video.Duration,
			Extractor:  "Youtube",
			WebpageURL: req.URL,
		},
	}, nil
}

// pickProgressiveFormat выбирает mp4 со звуком максимального разрешения
func pickProgressiveFormat(formats youtube.FormatList) (*youtube.Format, error) {
	candidates := formats.WithAudioChannels().Type("video/mp4")
	if len(candidates) == 0 {
		return nil, fmt.Errorf("нет mp4 формата со звуком")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Height == candidates[j].Height {
			return candidates[i].Bitrate > candidates[j].Bitrate
		}
		return candidates[i].Height > candidates[j].Height
	})
	return &candidates[0], nil
}

func writeStream(path string, stream io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ошибка создания файла: %w", err)
	}
	if _, err := io.Copy(out, stream); err != nil {
		out.Close()
		os.Remove(path)
		return fmt.Errorf("ошибка скачивания потока: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("ошибка записи файла: %w", err)
	}
	return nil
}
