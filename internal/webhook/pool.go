package webhook

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/metrics"
	"github.com/open-apime/crmhub/internal/pkg/queue"
)

// JobHandler processa um tipo de job da fila.
type JobHandler interface {
	Handle(ctx context.Context, job *queue.Job) error
}

type JobHandlerFunc func(ctx context.Context, job *queue.Job) error

func (f JobHandlerFunc) Handle(ctx context.Context, job *queue.Job) error { return f(ctx, job) }

// Pool consome a fila de jobs com um número fixo de workers. No Stop, os
// jobs já retirados da fila são concluídos antes do retorno.
type Pool struct {
	queue    queue.Queue
	handlers map[string]JobHandler
	metrics  *metrics.Metrics
	log      *zap.Logger

	numWorkers   int
	workers      []*poolWorker
	taskChan     chan *queue.Job
	dispatcherWG sync.WaitGroup
	workersWG    sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
}

func NewPool(q queue.Queue, m *metrics.Metrics, log *zap.Logger, numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	if m == nil {
		m = metrics.Nop()
	}

	return &Pool{
		queue:      q,
		handlers:   make(map[string]JobHandler),
		metrics:    m,
		log:        log,
		numWorkers: numWorkers,
		workers:    make([]*poolWorker, numWorkers),
		taskChan:   make(chan *queue.Job, numWorkers*2),
	}
}

// Register associa um handler a um tipo de job. Deve ser chamado antes de Start.
func (p *Pool) Register(jobType string, h JobHandler) {
	p.handlers[jobType] = h
}

func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.log.Info("job pool: iniciando", zap.Int("workers", p.numWorkers))

	// jobs em andamento terminam mesmo após o cancelamento do pool
	jobCtx := context.WithoutCancel(p.ctx)
	for i := 0; i < p.numWorkers; i++ {
		worker := &poolWorker{
			id:       i,
			taskChan: p.taskChan,
			handlers: p.handlers,
			metrics:  p.metrics,
			log:      p.log,
		}
		p.workers[i] = worker

		p.workersWG.Add(1)
		go func() {
			defer p.workersWG.Done()
			worker.run(jobCtx)
		}()
	}

	p.dispatcherWG.Add(1)
	go p.runDispatcher()

	p.log.Info("job pool: iniciada com sucesso")
}

func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.log.Info("job pool: encerrando")
	p.cancel()
	p.dispatcherWG.Wait()
	close(p.taskChan)
	p.workersWG.Wait()
	p.log.Info("job pool: encerrada")
}

func (p *Pool) runDispatcher() {
	defer p.dispatcherWG.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		job, err := p.queue.Dequeue(p.ctx, 1*time.Second)
		if err != nil {
			if p.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			p.log.Error("job pool: erro ao desenfileirar", zap.Error(err))
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}

		// os workers só param depois do close, então o envio sempre conclui
		p.taskChan <- job
	}
}
