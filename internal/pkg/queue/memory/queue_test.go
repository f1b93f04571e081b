package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-apime/crmhub/internal/pkg/queue"
)

func TestMemoryQueue(t *testing.T) {
	q := NewQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queue.Job{ID: "1", TenantID: "t1", Type: queue.JobForwardEvent}))
	assert.ErrorIs(t, q.Enqueue(ctx, queue.Job{ID: "2"}), ErrFull)

	size, _ := q.Size(ctx)
	assert.Equal(t, int64(1), size)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "t1", job.TenantID)

	job, err = q.Dequeue(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(ctx, queue.Job{ID: "3"}), ErrClosed)
	_, err = q.Dequeue(ctx, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}
