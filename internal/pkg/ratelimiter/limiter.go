// Package ratelimiter conta requisições em janelas fixas, em memória ou no
// Redis compartilhado entre réplicas.
package ratelimiter

import (
	"context"
	"math"
	"time"
)

type Result struct {
	Allowed    bool
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds arredonda para cima; Retry-After nunca deve ser zero
// para uma requisição recusada.
func (r *Result) RetryAfterSeconds() int {
	secs := int(math.Ceil(r.RetryAfter.Seconds()))
	return max(secs, 1)
}

type Limiter interface {
	// Allow incrementa o contador de key e informa se ainda cabe em limit
	// dentro da janela.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}
