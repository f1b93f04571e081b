package memory

import (
	"context"
	"sync"
	"time"

	"github.com/open-apime/crmhub/internal/pkg/ratelimiter"
)

type window struct {
	count     int
	expiresAt time.Time
}

// MemoryLimiter implementa janela fixa por chave dentro do processo.
type MemoryLimiter struct {
	mu    sync.Mutex
	items map[string]*window
	stop  chan struct{}
	once  sync.Once
}

func NewLimiter() *MemoryLimiter {
	l := &MemoryLimiter{
		items: make(map[string]*window),
		stop:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int, span time.Duration) (*ratelimiter.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.items[key]
	if !ok || now.After(w.expiresAt) {
		l.items[key] = &window{count: 1, expiresAt: now.Add(span)}
		return &ratelimiter.Result{
			Allowed:   limit > 0,
			Remaining: max(limit-1, 0),
			Reset:     now.Add(span),
		}, nil
	}

	w.count++
	return &ratelimiter.Result{
		Allowed:    w.count <= limit,
		Remaining:  max(limit-w.count, 0),
		Reset:      w.expiresAt,
		RetryAfter: w.expiresAt.Sub(now),
	}, nil
}

// Close encerra a rotina de limpeza.
func (l *MemoryLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for k, w := range l.items {
				if now.After(w.expiresAt) {
					delete(l.items, k)
				}
			}
			l.mu.Unlock()
		}
	}
}
