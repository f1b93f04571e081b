// Package lock serializa o processamento por contato entre requisições
// concorrentes. A implementação Redis vale entre réplicas; a de memória
// apenas dentro do processo.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotAcquired = errors.New("lock: não adquirido")

// Release libera um lock adquirido. Chamadas repetidas são inofensivas.
type Release func(ctx context.Context) error

type Locker interface {
	// Acquire tenta uma única vez; retorna ErrNotAcquired se a chave estiver ocupada.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// Wait tenta adquirir o lock com backoff até que wait expire.
func Wait(ctx context.Context, l Locker, key string, ttl, wait time.Duration) (Release, error) {
	deadline := time.Now().Add(wait)
	backoff := 10 * time.Millisecond

	for {
		release, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}
		if time.Now().Add(backoff).After(deadline) {
			return nil, ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

type entry struct {
	token     string
	expiresAt time.Time
}

type MemoryLocker struct {
	mu    sync.Mutex
	items map[string]entry
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{items: make(map[string]entry)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if cur, ok := l.items[key]; ok && now.Before(cur.expiresAt) {
		return nil, ErrNotAcquired
	}

	token := uuid.New().String()
	l.items[key] = entry{token: token, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.items[key]; ok && cur.token == token {
			delete(l.items, key)
		}
		return nil
	}, nil
}
