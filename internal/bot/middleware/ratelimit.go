package middleware

import (
	"sync"
	"time"
)

// RateLimiter ограничивает число запросов пользователя в скользящем окне.
// limit <= 0 отключает ограничение.
type RateLimiter struct {
	mu     sync.Mutex
	hits   map[int64][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		hits:   make(map[int64][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	if limit > 0 {
		go rl.cleanup(5 * time.Minute)
	}
	return rl
}

// Close останавливает фоновую очистку. Вызывать на shutdown.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow учитывает запрос и говорит, укладывается ли он в лимит.
func (rl *RateLimiter) Allow(userID int64) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.recent(userID, now)
	if len(recent) >= rl.limit {
		rl.hits[userID] = recent
		return false
	}
	rl.hits[userID] = append(recent, now)
	return true
}

// RetryAfter — через сколько пользователю снова можно. 0 — уже можно.
func (rl *RateLimiter) RetryAfter(userID int64) time.Duration {
	if rl.limit <= 0 {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.recent(userID, now)
	if len(recent) < rl.limit {
		return 0
	}
	return recent[0].Add(rl.window).Sub(now)
}

// recent — отметки внутри окна, старые выбрасываются. Вызывать под mu.
func (rl *RateLimiter) recent(userID int64, now time.Time) []time.Time {
	cutoff := now.Add(-rl.window)
	times := rl.hits[userID]
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}

func (rl *RateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for userID := range rl.hits {
				if recent := rl.recent(userID, now); len(recent) == 0 {
					delete(rl.hits, userID)
				} else {
					rl.hits[userID] = recent
				}
			}
			rl.mu.Unlock()
		}
	}
}
