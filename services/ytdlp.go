package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// CommandRunner запускает внешнюю команду и возвращает stdout и stderr
type CommandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// execRunner запускает команду через os/exec
func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	// yt-dlp может оставить дочерний ffmpeg, не ждем его пайпы вечно
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// YtDlpExtractor скачивает видео внешним инструментом yt-dlp
type YtDlpExtractor struct {
	binary    string
	proxyArgs []string
	run       CommandRunner
}

// NewYtDlpExtractor создает экстрактор. Пустой binary означает поиск в PATH.
func NewYtDlpExtractor(binary string, proxyArgs []string) *YtDlpExtractor {
	return &YtDlpExtractor{
		binary:    getYtDlpPath(binary),
		proxyArgs: proxyArgs,
		run:       execRunner,
	}
}

// getYtDlpPath возвращает путь к yt-dlp
func getYtDlpPath(configured string) string {
	if configured != "" {
		return configured
	}
	if _, err := exec.LookPath("/usr/local/bin/yt-dlp"); err == nil {
		return "/usr/local/bin/yt-dlp"
	}
	if path, err := exec.LookPath("yt-dlp"); err == nil {
		return path
	}
	return "yt-dlp"
}

func (y *YtDlpExtractor) Name() string { return "yt-dlp" }

// Binary возвращает путь к исполняемому файлу
func (y *YtDlpExtractor) Binary() string { return y.binary }

// Version проверяет, что yt-dlp установлен, и возвращает его версию
func (y *YtDlpExtractor) Version(ctx context.Context) (string, error) {
	stdout, stderr, err := y.run(ctx, y.binary, "--version")
	if err != nil {
		return "", fmt.Errorf("yt-dlp не найден (%s): %v %s", y.binary, err, strings.TrimSpace(string(stderr)))
	}
	return strings.TrimSpace(string(stdout)), nil
}

// Extract скачивает видео и читает метаданные из --dump-json
func (y *YtDlpExtractor) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	if req.OutputTemplate == "" {
		return nil, fmt.Errorf("не задан шаблон пути для скачивания")
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputTemplate), 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать папку для загрузок: %w", err)
	}

	args := YtDlpArgs(req.Platform)
	args = append(args,
		"--output", req.OutputTemplate,
		"--dump-json",
		"--no-simulate",
		"--no-progress",
		"--no-warnings",
	)
	if req.CookiesPath != "" {
		args = append(args, "--cookies", req.CookiesPath)
	}
	args = append(args, y.proxyArgs...)
	args = append(args, req.URL)

	log.Debugf("🚀 Выполняю команду: %s %s", y.binary, strings.Join(args, " "))

	stdout, stderr, err := y.run(ctx, y.binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ошибка yt-dlp: %v: %s", err, lastLine(string(stderr)))
	}

	info := lastLine(string(stdout))
	if !gjson.Valid(info) {
		return nil, fmt.Errorf("yt-dlp вернул некорректный JSON")
	}

	res := &ExtractResult{
		FilePath: downloadedPath(info),
		Metadata: parseVideoMetadata(info),
	}
	if res.FilePath == "" || !fileExists(res.FilePath) {
		found, err := findDownloadedFile(req.OutputTemplate)
		if err != nil {
			return nil, err
		}
		res.FilePath = found
	}

	log.Infof("✅ yt-dlp скачал %s: %s", req.URL, filepath.Base(res.FilePath))
	return res, nil
}

// downloadedPath достает итоговый путь к файлу из JSON yt-dlp
func downloadedPath(info string) string {
	for _, key := range []string{"requested_downloads.0.filepath", "filepath", "_filename", "filename"} {
		if v := gjson.Get(info, key).String(); v != "" {
			return v
		}
	}
	return ""
}

// parseVideoMetadata извлекает метаданные из JSON yt-dlp
func parseVideoMetadata(info string) VideoMetadata {
	meta := VideoMetadata{
		ID:         gjson.Get(info, "id").String(),
		Title:      gjson.Get(info, "title").String(),
		Extractor:  gjson.Get(info, "extractor_key").String(),
		WebpageURL: gjson.Get(info, "webpage_url").String(),
		Duration:   time.Duration(gjson.Get(info, "duration").Float() * float64(time.Second)),
	}
	for _, key := range []string{"uploader", "creator", "channel"} {
		if v := gjson.Get(info, key).String(); v != "" {
			meta.Author = v
			break
		}
	}
	return meta
}

// findDownloadedFile ищет файл по префиксу шаблона, пропуская недокачанные
func findDownloadedFile(template string) (string, error) {
	matches, err := filepath.Glob(globEscape(templatePrefix(template)) + "*")
	if err != nil {
		return "", fmt.Errorf("не удалось найти скачанный файл: %w", err)
	}
	for _, match := range matches {
		if isPartialFile(match) {
			continue
		}
		return match, nil
	}
	return "", fmt.Errorf("скачанный файл не найден для шаблона %s", template)
}

// templatePrefix возвращает часть шаблона до первой подстановки %(...)
func templatePrefix(template string) string {
	if i := strings.Index(template, "%("); i >= 0 {
		return template[:i]
	}
	return strings.TrimSuffix(template, filepath.Ext(template))
}

func isPartialFile(path string) bool {
	for _, suffix := range []string{".part", ".ytdl", ".temp", ".tmp"} {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return strings.Contains(filepath.Base(path), ".part-")
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`)
	return r.Replace(s)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
