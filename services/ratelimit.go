package services

import (
	"sync"
	"time"
)

// RateWindow - длина скользящего окна лимита
const RateWindow = 60 * time.Second

// userWindow - метки времени допущенных запросов одного пользователя
type userWindow struct {
	mu    sync.Mutex
	stamp []time.Time
	dead  bool // окно удалено Sweep, нужно взять новое
}

// RateLimiter ограничивает количество запросов пользователя в скользящем окне.
// Лимит читается при каждом вызове, поэтому изменения администратора применяются сразу.
// Состояние хранится только в памяти и сбрасывается при перезапуске.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[int64]*userWindow
	limit   func() int
	now     func() time.Time
}

// NewRateLimiter создает лимитер с функцией чтения текущего лимита
func NewRateLimiter(limit func() int) *RateLimiter {
	return &RateLimiter{
		windows: make(map[int64]*userWindow),
		limit:   limit,
		now:     time.Now,
	}
}

// Allow решает, можно ли принять запрос пользователя прямо сейчас.
// Метка добавляется только при допуске.
func (rl *RateLimiter) Allow(userID int64) bool {
	window := rl.lockWindow(userID)
	defer window.mu.Unlock()

	now := rl.now()
	kept := window.stamp[:0]
	for _, t := range window.stamp {
		if now.Sub(t) < RateWindow {
			kept = append(kept, t)
		}
	}
	window.stamp = kept

	limit := rl.limit()
	if limit < 1 {
		limit = 1
	}
	if len(window.stamp) >= limit {
		return false
	}

	window.stamp = append(window.stamp, now)
	return true
}

// Remaining возвращает, сколько запросов пользователь еще может сделать в текущем окне
func (rl *RateLimiter) Remaining(userID int64) int {
	window := rl.lockWindow(userID)
	defer window.mu.Unlock()

	now := rl.now()
	used := 0
	for _, t := range window.stamp {
		if now.Sub(t) < RateWindow {
			used++
		}
	}
	if left := rl.limit() - used; left > 0 {
		return left
	}
	return 0
}

// Sweep удаляет окна пользователей без запросов за последнюю минуту
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for id, window := range rl.windows {
		window.mu.Lock()
		if len(window.stamp) == 0 || now.Sub(window.stamp[len(window.stamp)-1]) >= RateWindow {
			window.dead = true
			delete(rl.windows, id)
			removed++
		}
		window.mu.Unlock()
	}
	return removed
}

// lockWindow возвращает заблокированное живое окно пользователя
func (rl *RateLimiter) lockWindow(userID int64) *userWindow {
	for {
		window := rl.window(userID)
		window.mu.Lock()
		if !window.dead {
			return window
		}
		window.mu.Unlock()
	}
}

func (rl *RateLimiter) window(userID int64) *userWindow {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	window, ok := rl.windows[userID]
	if !ok {
		window = &userWindow{}
		rl.windows[userID] = window
	}
	return window
}
