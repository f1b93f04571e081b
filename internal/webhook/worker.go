package webhook

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/metrics"
	"github.com/open-apime/crmhub/internal/pkg/queue"
)

type poolWorker struct {
	id       int
	taskChan chan *queue.Job
	handlers map[string]JobHandler
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func (w *poolWorker) run(ctx context.Context) {
	w.log.Debug("job pool: worker iniciado", zap.Int("workerId", w.id))
	for job := range w.taskChan {
		w.process(ctx, job)
	}
	w.log.Debug("job pool: worker encerrado", zap.Int("workerId", w.id))
}

func (w *poolWorker) process(ctx context.Context, job *queue.Job) {
	log := w.log.With(
		zap.Int("workerId", w.id),
		zap.String("jobId", job.ID),
		zap.String("jobType", job.Type),
		zap.String("tenant_id", job.TenantID),
	)

	handler, ok := w.handlers[job.Type]
	if !ok {
		log.Warn("job pool: tipo de job sem handler")
		w.metrics.ObserveJob(job.Type, false)
		return
	}

	start := time.Now()
	if err := handler.Handle(ctx, job); err != nil {
		log.Error("job pool: falha ao processar job", zap.Error(err))
		w.metrics.ObserveJob(job.Type, false)
		return
	}

	w.metrics.ObserveJob(job.Type, true)
	log.Debug("job pool: job concluído", zap.Duration("took", time.Since(start)))
}
