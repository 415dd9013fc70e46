package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config содержит конфигурацию бота
type Config struct {
	TelegramToken   string        `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	TelegramAPI     string        `envconfig:"TELEGRAM_API_URL"` // локальный сервер Bot API, пусто - api.telegram.org
	AdminID         int64         `envconfig:"ADMIN_ID"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" default:"3m"`
	DataDir         string        `envconfig:"DATA_DIR" default:"data"`
	DownloadDir     string        `envconfig:"DOWNLOAD_DIR" default:"downloads"`
	CacheDir        string        `envconfig:"CACHE_DIR" default:"cache"`
	MaxCacheFiles   int           `envconfig:"MAX_CACHE_FILES" default:"100"` // 0 отключает кэш
	MaxUploadMB     int64         `envconfig:"MAX_UPLOAD_MB" default:"49"`
	DefaultLimit    int           `envconfig:"DEFAULT_LIMIT_PER_MIN" default:"5"`
	Workers         int           `envconfig:"WORKERS" default:"3"`
	QueueSize       int           `envconfig:"QUEUE_SIZE" default:"50"`
	DownloadTimeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"5m"`
	CookiesFile     string        `envconfig:"COOKIES_FILE" default:"cookies.txt"`
	StateBackend    string        `envconfig:"STATE_BACKEND" default:"sqlite"` // sqlite или json
	Extractor       string        `envconfig:"EXTRACTOR" default:"auto"`       // auto, ytdlp или native
	YtDlpPath       string        `envconfig:"YTDLP_PATH"`
	Platforms       []string      `envconfig:"PLATFORMS" default:"tiktok,youtube_shorts,instagram"`
	BroadcastRate   float64       `envconfig:"BROADCAST_RATE" default:"20"`
	ErrorBuffer     int           `envconfig:"ERROR_BUFFER" default:"50"`
	ProgressReplies bool          `envconfig:"PROGRESS_REPLIES" default:"true"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFile         string        `envconfig:"LOG_FILE"`

	Proxy ProxyConfig `ignored:"true"`
}

// Load загружает конфигурацию из файла и переменных окружения.
// Переменные окружения имеют приоритет над файлом. Отсутствие файла не ошибка.
func Load(filename string) (*Config, error) {
	if filename != "" {
		if err := godotenv.Load(filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("ошибка чтения %s: %w", filename, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}
	proxy, err := LoadProxyConfig()
	if err != nil {
		return nil, err
	}
	cfg.Proxy = *proxy

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения и приводит пограничные к допустимым
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TelegramToken) == "" {
		return errors.New("TELEGRAM_BOT_TOKEN не установлен")
	}
	if c.DefaultLimit < 1 {
		c.DefaultLimit = 1
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.QueueSize < 0 {
		c.QueueSize = 0
	}
	if c.MaxCacheFiles < 0 {
		return fmt.Errorf("MAX_CACHE_FILES не может быть отрицательным: %d", c.MaxCacheFiles)
	}
	if c.CacheEnabled() && filepath.Clean(c.CacheDir) == filepath.Clean(c.DownloadDir) {
		return fmt.Errorf("CACHE_DIR и DOWNLOAD_DIR должны различаться: %s", c.CacheDir)
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("MAX_UPLOAD_MB должен быть положительным: %d", c.MaxUploadMB)
	}

	c.StateBackend = strings.ToLower(c.StateBackend)
	switch c.StateBackend {
	case "sqlite", "json":
	default:
		return fmt.Errorf("неизвестный STATE_BACKEND: %s", c.StateBackend)
	}

	c.Extractor = strings.ToLower(c.Extractor)
	switch c.Extractor {
	case "auto", "ytdlp", "native":
	default:
		return fmt.Errorf("неизвестный EXTRACTOR: %s", c.Extractor)
	}
	return nil
}

// MaxUploadBytes возвращает лимит отправки в байтах
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB * 1024 * 1024
}

// CacheEnabled сообщает, включен ли кэш видео
func (c *Config) CacheEnabled() bool {
	return c.MaxCacheFiles > 0
}

// StateDBPath возвращает путь к базе SQLite
func (c *Config) StateDBPath() string {
	return filepath.Join(c.DataDir, "state.db")
}
