package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// DefaultMaxUploadBytes - лимит загрузки файла ботом с запасом
const DefaultMaxUploadBytes int64 = 49 * 1024 * 1024

// Upload - файл для отправки в чат
type Upload struct {
	Name   string
	Reader io.Reader
	Size   int64
}

// Transport отправляет сообщения в мессенджер
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendMedia(ctx context.Context, chatID int64, file Upload, caption string) error
	SendDocument(ctx context.Context, chatID int64, file Upload, caption string) error
}

// Artifact - скачанный файл, готовый к отправке.
// Временный файл удаляется после попытки отправки, файл из кэша остается.
type Artifact struct {
	Path      string
	Transient bool
	File      *os.File // уже открытый дескриптор, если есть
}

// DeliveryMethod - способ, которым файл дошел до пользователя
type DeliveryMethod string

const (
	DeliveredAsMedia    DeliveryMethod = "video"
	DeliveredAsDocument DeliveryMethod = "document"
)

// DeliveryResult описывает успешную отправку
type DeliveryResult struct {
	Method DeliveryMethod
	Size   int64
}

// DeliveryGateway проверяет размер и отправляет файл с запасным вариантом
type DeliveryGateway struct {
	transport Transport
	maxBytes  int64
}

// NewDeliveryGateway создает шлюз отправки. maxBytes <= 0 означает лимит по умолчанию.
func NewDeliveryGateway(transport Transport, maxBytes int64) *DeliveryGateway {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &DeliveryGateway{transport: transport, maxBytes: maxBytes}
}

// MaxBytes возвращает лимит размера файла
func (g *DeliveryGateway) MaxBytes() int64 { return g.maxBytes }

// SendText отправляет текстовый ответ, ошибка только логируется
func (g *DeliveryGateway) SendText(ctx context.Context, chatID int64, text string) {
	if err := g.transport.SendText(ctx, chatID, text); err != nil {
		log.Warnf("⚠️ Не удалось отправить сообщение в чат %d: %v", chatID, err)
	}
}

// CheckSize возвращает размер файла и *TooLargeError, если он превышает лимит
func (g *DeliveryGateway) CheckSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("не удалось получить размер файла: %w", err)
	}
	if info.Size() > g.maxBytes {
		return info.Size(), &TooLargeError{Size: info.Size(), Limit: g.maxBytes}
	}
	return info.Size(), nil
}

// Deliver отправляет файл как видео, при ошибке один раз пробует как документ.
// Временный артефакт удаляется в любом случае.
func (g *DeliveryGateway) Deliver(ctx context.Context, chatID int64, artifact Artifact, caption string) (*DeliveryResult, error) {
	file := artifact.File
	if file == nil {
		var err error
		if file, err = os.Open(artifact.Path); err != nil {
			g.discard(artifact)
			return nil, &DeliveryError{Primary: fmt.Errorf("не удалось открыть файл: %w", err)}
		}
	}
	defer func() {
		file.Close()
		g.discard(artifact)
	}()

	info, err := file.Stat()
	if err != nil {
		return nil, &DeliveryError{Primary: fmt.Errorf("не удалось получить размер файла: %w", err)}
	}
	size := info.Size()
	if size > g.maxBytes {
		log.Warnf("⚠️ Файл %s слишком большой: %s", filepath.Base(artifact.Path), humanize.IBytes(uint64(size)))
		return nil, &TooLargeError{Size: size, Limit: g.maxBytes}
	}

	// у каждой попытки свой reader со своим смещением
	upload := Upload{Name: uploadName(artifact.Path), Reader: io.NewSectionReader(file, 0, size), Size: size}
	log.Infof("📤 Отправляю видео в чат %d (%s)", chatID, humanize.IBytes(uint64(size)))

	primaryErr := g.transport.SendMedia(ctx, chatID, upload, caption)
	if primaryErr == nil {
		return &DeliveryResult{Method: DeliveredAsMedia, Size: size}, nil
	}
	log.Warnf("⚠️ Не удалось отправить как видео, пробую документом: %v", primaryErr)

	upload.Reader = io.NewSectionReader(file, 0, size)

	if err := g.transport.SendDocument(ctx, chatID, upload, caption); err != nil {
		return nil, &DeliveryError{Primary: primaryErr, Fallback: err}
	}
	return &DeliveryResult{Method: DeliveredAsDocument, Size: size}, nil
}

// discard удаляет временный артефакт
func (g *DeliveryGateway) discard(artifact Artifact) {
	if !artifact.Transient || artifact.Path == "" {
		return
	}
	if err := os.Remove(artifact.Path); err != nil && !os.IsNotExist(err) {
		log.Warnf("⚠️ Не удалось удалить временный файл %s: %v", artifact.Path, err)
	}
}

func uploadName(path string) string {
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		return "video.mp4"
	}
	return name
}
