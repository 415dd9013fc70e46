package utils

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

// MaxMessageLength - лимит длины текстового сообщения Telegram
const MaxMessageLength = 4096

// SplitMessage режет длинный текст на части не длиннее limit символов,
// по возможности по границам строк
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			parts = append(parts, strings.TrimRight(current.String(), "\n"))
			current.Reset()
			currentLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		lineLen := utf8.RuneCountInString(line)
		if currentLen+lineLen > limit {
			flush()
		}
		// строка длиннее лимита режется по символам
		for lineLen > limit {
			runes := []rune(line)
			parts = append(parts, string(runes[:limit]))
			line = string(runes[limit:])
			lineLen -= limit
		}
		current.WriteString(line)
		currentLen += lineLen
	}
	flush()
	return parts
}

// RetryWithBackoff выполняет функцию с повторными попытками и экспоненциальной задержкой.
// Ожидание прерывается отменой контекста.
func RetryWithBackoff(ctx context.Context, operation func() error, maxRetries int, baseDelay time.Duration) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Экспоненциальная задержка: 1s, 2s, 4s, 8s, 16s
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			log.Debugf("🔄 Попытка %d/%d через %v...", attempt+1, maxRetries+1, delay)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				log.Debugf("✅ Операция успешна после %d попыток", attempt+1)
			}
			return nil
		}

		lastErr = err
		log.Warnf("❌ Попытка %d/%d неудачна: %v", attempt+1, maxRetries+1, err)
	}

	log.Errorf("💥 Все %d попыток исчерпаны", maxRetries+1)
	return lastErr
}
