// Package redis implementa queue.Queue sobre uma lista Redis, permitindo
// que vários processos consumam os mesmos jobs.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/open-apime/crmhub/internal/pkg/queue"
)

// JobQueue produz com RPUSH e consome com BLPOP, mantendo ordem FIFO.
type JobQueue struct {
	rdb redis.Cmdable
	key string
}

func NewQueue(rdb redis.Cmdable, key string) *JobQueue {
	return &JobQueue{rdb: rdb, key: key}
}

func (q *JobQueue) Enqueue(ctx context.Context, job queue.Job) error {
	job.Stamp()
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("fila: serializar job %s: %w", job.Type, err)
	}
	if err := q.rdb.RPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("fila: publicar job %s: %w", job.Type, err)
	}
	return nil
}

func (q *JobQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error) {
	// BLPOP responde [chave, valor]
	reply, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("fila: consumir: %w", err)
	case len(reply) != 2:
		return nil, fmt.Errorf("fila: resposta BLPOP inesperada (%d itens)", len(reply))
	}

	job := new(queue.Job)
	if err := json.Unmarshal([]byte(reply[1]), job); err != nil {
		return nil, fmt.Errorf("fila: job corrompido: %w", err)
	}
	return job, nil
}

func (q *JobQueue) Size(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

// Close é no-op: o cliente pertence ao storage.
func (q *JobQueue) Close() error { return nil }
