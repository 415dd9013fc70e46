package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultErrorBuffer - сколько последних ошибок хранится в памяти
const DefaultErrorBuffer = 50

// ErrorRecord - одна запись журнала ошибок
type ErrorRecord struct {
	At      time.Time
	Message string
}

// Notifier доставляет уведомление администратору
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// ErrorReporter хранит последние ошибки в кольцевом буфере и уведомляет администратора
type ErrorReporter struct {
	mu         sync.Mutex
	records    []ErrorRecord
	next       int
	full       bool
	operatorID int64
	notifier   Notifier
	now        func() time.Time
}

// NewErrorReporter создает журнал ошибок. notifier может быть nil.
func NewErrorReporter(capacity int, operatorID int64, notifier Notifier) *ErrorReporter {
	if capacity < 1 {
		capacity = DefaultErrorBuffer
	}
	return &ErrorReporter{
		records:    make([]ErrorRecord, capacity),
		operatorID: operatorID,
		notifier:   notifier,
		now:        time.Now,
	}
}

// Record сохраняет ошибку и отправляет уведомление администратору.
// Ошибка уведомления только логируется.
func (r *ErrorReporter) Record(ctx context.Context, err error, details string) {
	message := r.Log(err, details)
	if r.notifier == nil || r.operatorID == 0 {
		return
	}
	if notifyErr := r.notifier.SendText(ctx, r.operatorID, message); notifyErr != nil {
		log.Warnf("⚠️ Не удалось уведомить администратора: %v", notifyErr)
	}
}

// Log сохраняет ошибку без уведомления и возвращает текст записи
func (r *ErrorReporter) Log(err error, details string) string {
	message := fmt.Sprintf("Error: %v", err)
	if details != "" {
		message += "\n" + details
	}

	r.mu.Lock()
	r.records[r.next] = ErrorRecord{At: r.now(), Message: message}
	r.next = (r.next + 1) % len(r.records)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()

	log.Errorf("❌ %s", message)
	return message
}

// Recent возвращает до n последних записей, от старых к новым
func (r *ErrorReporter) Recent(n int) []ErrorRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.records)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]ErrorRecord, 0, n)
	for i := size - n; i < size; i++ {
		idx := i
		if r.full {
			idx = (r.next + i) % len(r.records)
		}
		out = append(out, r.records[idx])
	}
	return out
}

// Capacity возвращает размер буфера
func (r *ErrorReporter) Capacity() int { return len(r.records) }
