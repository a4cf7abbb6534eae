package knowledge

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultTickInterval = 5 * time.Second

// Worker runs ingestion jobs in the background, one at a time. Jobs left
// unfinished by a previous process are picked up on the first tick.
type Worker struct {
	svc    *Service
	logger *zap.Logger

	wake         chan struct{}
	tickInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	// onFinish, when set, observes every job the worker completes.
	onFinish func(*Job)
}

// NewWorker creates a stopped worker.
func NewWorker(svc *Service, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		svc:          svc,
		logger:       logger.Named("knowledge.worker"),
		wake:         make(chan struct{}, 1),
		tickInterval: defaultTickInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// OnFinish registers a callback for finished jobs. Call before Start.
func (w *Worker) OnFinish(fn func(*Job)) { w.onFinish = fn }

// Start launches the processing loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop cancels the running job and waits for the loop to exit. The
// interrupted job stays unfinished and resumes on the next Start.
func (w *Worker) Stop() {
	w.once.Do(w.cancel)
	w.wg.Wait()
}

// Submit records a job and wakes the worker. It returns before any source
// is processed.
func (w *Worker) Submit(ctx context.Context, namespace string, sources []string) (*Job, error) {
	job, err := w.svc.CreateJob(ctx, namespace, sources)
	if err != nil {
		return nil, err
	}
	w.Wake()
	return job, nil
}

// Wake asks the loop to look for work now.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	w.logger.Debug("ingestion worker started", zap.Duration("interval", w.tickInterval))
	w.processPending()
	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("ingestion worker stopped")
			return
		case <-w.wake:
			w.processPending()
		case <-ticker.C:
			w.processPending()
		}
	}
}

func (w *Worker) processPending() {
	jobs, err := w.svc.Store().Unfinished(w.ctx)
	if err != nil {
		if w.ctx.Err() == nil {
			w.logger.Warn("failed to list pending jobs", zap.Error(err))
		}
		return
	}
	for _, job := range jobs {
		if w.ctx.Err() != nil {
			return
		}
		done, err := w.svc.RunJob(w.ctx, job.ID)
		if err != nil {
			if errors.Is(err, context.Canceled) || w.ctx.Err() != nil {
				return
			}
			w.logger.Error("ingestion job failed", zap.String("job_id", job.ID), zap.Error(err))
			if ferr := w.svc.Store().Finish(w.ctx, job.ID, StatusFailed, 0, err.Error()); ferr != nil {
				w.logger.Warn("failed to mark job failed", zap.String("job_id", job.ID), zap.Error(ferr))
			}
			continue
		}
		if w.onFinish != nil {
			w.onFinish(done)
		}
	}
}
