package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// ExtractRequest - параметры одного скачивания
type ExtractRequest struct {
	URL            string
	Platform       PlatformType
	UserID         int64  // попадает в имя временного файла
	OutputTemplate string // шаблон пути с %(ext)s, как у yt-dlp
	CookiesPath    string
}

// VideoMetadata представляет метаданные видео
type VideoMetadata struct {
	ID         string
	Title      string
	Author     string
	Duration   time.Duration
	Extractor  string
	WebpageURL string
}

// ExtractResult - путь к скачанному файлу и метаданные
type ExtractResult struct {
	FilePath string
	Metadata VideoMetadata
}

// Extractor скачивает видео по ссылке. Вызов блокирующий и может занимать секунды.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error)
}

// FallbackExtractor пробует экстракторы по очереди до первого успеха
type FallbackExtractor struct {
	extractors []Extractor
}

// NewFallbackExtractor создает цепочку экстракторов
func NewFallbackExtractor(extractors ...Extractor) *FallbackExtractor {
	return &FallbackExtractor{extractors: extractors}
}

func (f *FallbackExtractor) Name() string { return "fallback" }

func (f *FallbackExtractor) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	var errs []error
	for _, extractor := range f.extractors {
		res, err := extractor.Extract(ctx, req)
		if err == nil {
			return res, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", extractor.Name(), err))
		if ctx.Err() != nil {
			break
		}
		log.Warnf("⚠️ Экстрактор %s не справился, пробую следующий: %v", extractor.Name(), err)
	}
	if len(errs) == 0 {
		return nil, errors.New("нет доступных экстракторов")
	}
	return nil, errors.Join(errs...)
}

// PlatformRouter выбирает экстрактор по платформе ссылки
type PlatformRouter struct {
	routes   map[PlatformType]Extractor
	fallback Extractor
}

// NewPlatformRouter создает маршрутизатор с экстрактором по умолчанию
func NewPlatformRouter(fallback Extractor) *PlatformRouter {
	return &PlatformRouter{
		routes:   make(map[PlatformType]Extractor),
		fallback: fallback,
	}
}

// Route назначает экстрактор для платформы
func (r *PlatformRouter) Route(platform PlatformType, extractor Extractor) *PlatformRouter {
	r.routes[platform] = extractor
	return r
}

func (r *PlatformRouter) Name() string { return "router" }

func (r *PlatformRouter) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	if extractor, ok := r.routes[req.Platform]; ok {
		return extractor.Extract(ctx, req)
	}
	return r.fallback.Extract(ctx, req)
}
