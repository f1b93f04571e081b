package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Tipos de job processados pelo pool de workers.
const (
	JobForwardEvent   = "event.forward"
	JobDetectSchedule = "scheduling.detect"
)

// Job é uma tarefa assíncrona disparada após a persistência de um webhook.
type Job struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenantId"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Stamp preenche ID e CreatedAt quando o produtor não os definiu. As
// implementações de Queue chamam no Enqueue.
func (j *Job) Stamp() {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
}

// String lê um campo textual do payload.
func (j Job) String(key string) string {
	if j.Payload == nil {
		return ""
	}
	s, _ := j.Payload[key].(string)
	return s
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue retorna nil, nil quando o timeout expira sem jobs.
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
	Size(ctx context.Context) (int64, error)
	Close() error
}
