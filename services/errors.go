package services

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// ErrQueueStopped возвращается, когда очередь загрузок уже остановлена
var ErrQueueStopped = errors.New("очередь загрузок остановлена")

// ErrQueueFull возвращается, когда в очереди загрузок нет свободных мест
var ErrQueueFull = errors.New("очередь загрузок переполнена")

// ValidationError - текст не похож на поддерживаемую ссылку на видео
type ValidationError struct {
	Text string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("неподдерживаемая ссылка: %q", e.Text)
}

// AdmissionError - запрос отклонен проверкой допуска (бан, техработы, лимит)
type AdmissionError struct {
	Decision AdmissionDecision
}

func (e *AdmissionError) Error() string {
	return "запрос отклонен: " + e.Decision.String()
}

// ExtractionError - внешний инструмент не смог скачать видео
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("ошибка скачивания %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// TooLargeError - файл превышает лимит отправки платформы
type TooLargeError struct {
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("файл слишком большой: %s (лимит %s)",
		humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Limit)))
}

// DeliveryError - не удалось отправить файл ни основным, ни запасным способом
type DeliveryError struct {
	Primary  error
	Fallback error
}

func (e *DeliveryError) Error() string {
	if e.Fallback == nil {
		return fmt.Sprintf("ошибка отправки: %v", e.Primary)
	}
	return fmt.Sprintf("ошибка отправки: %v; запасная отправка: %v", e.Primary, e.Fallback)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}

// PersistenceError - не удалось сохранить состояние на диск
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ошибка сохранения (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
