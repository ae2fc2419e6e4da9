package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler performs the side effects for a dispatched finding. Returning an
// error requeues the event.
type Handler interface {
	HandleDispatch(ctx context.Context, event *DispatchEvent) error
}

type HandlerFunc func(ctx context.Context, event *DispatchEvent) error

func (f HandlerFunc) HandleDispatch(ctx context.Context, event *DispatchEvent) error {
	return f(ctx, event)
}

type eventSource interface {
	Dequeue(ctx context.Context, workerID string) (*DispatchEvent, error)
	Complete(ctx context.Context, event *DispatchEvent, success bool) error
	Requeue(ctx context.Context, event *DispatchEvent, errorMsg string) (bool, error)
	WorkerHeartbeat(ctx context.Context, workerID string) error
	CleanupStale(ctx context.Context, timeout time.Duration) (int, error)
}

var _ eventSource = (*Queue)(nil)

type Worker struct {
	id      string
	queue   eventSource
	handler Handler
	logger  *slog.Logger

	pollInterval      time.Duration
	heartbeatInterval time.Duration
	staleAfter        time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running bool
	mu      sync.Mutex
}

type WorkerConfig struct {
	Queue        eventSource
	Handler      Handler
	Logger       *slog.Logger
	PollInterval time.Duration
	StaleAfter   time.Duration
}

func NewWorker(cfg WorkerConfig) *Worker {
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	stale := cfg.StaleAfter
	if stale <= 0 {
		stale = 5 * time.Minute
	}

	return &Worker{
		id:                workerID,
		queue:             cfg.Queue,
		handler:           cfg.Handler,
		logger:            logger.With("worker_id", workerID),
		pollInterval:      poll,
		heartbeatInterval: 10 * time.Second,
		staleAfter:        stale,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.logger.Info("dispatch worker starting")

	w.wg.Add(3)
	go w.heartbeatLoop()
	go w.processLoop()
	go w.staleLoop()

	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	w.logger.Info("dispatch worker stopped")
}

func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		if err := w.queue.WorkerHeartbeat(w.ctx, w.id); err != nil && w.ctx.Err() == nil {
			w.logger.Warn("heartbeat failed", "error", err)
		}
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) processLoop() {
	defer w.wg.Done()

	for {
		processed, err := w.ProcessNext(w.ctx)
		if w.ctx.Err() != nil {
			return
		}

		var wait time.Duration
		switch {
		case err != nil:
			w.logger.Error("error dequeuing event", "error", err)
			wait = 5 * w.pollInterval
		case !processed:
			wait = w.pollInterval
		default:
			continue
		}

		select {
		case <-w.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// ProcessNext handles at most one due event and reports whether it found
// one.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	event, err := w.queue.Dequeue(ctx, w.id)
	if err != nil {
		return false, err
	}
	if event == nil {
		return false, nil
	}

	logger := w.logger.With("event_id", event.ID, "finding_id", event.Finding.ID)

	if err := w.handler.HandleDispatch(ctx, event); err != nil {
		requeued, qerr := w.queue.Requeue(ctx, event, err.Error())
		if qerr != nil {
			logger.Error("failed to requeue event", "error", qerr)
		}
		if requeued {
			totalDispatched.WithLabelValues(metricsLabelStatusRetried).Inc()
			logger.Warn("dispatch failed, requeued", "attempts", event.Attempts, "error", err)
		} else {
			totalDispatched.WithLabelValues(metricsLabelStatusFailed).Inc()
			logger.Error("dispatch failed permanently", "attempts", event.Attempts, "error", err)
		}
		return true, nil
	}

	if err := w.queue.Complete(ctx, event, true); err != nil {
		logger.Error("failed to complete event", "error", err)
	}
	totalDispatched.WithLabelValues(metricsLabelStatusSuccess).Inc()
	logger.Debug("dispatch completed")
	return true, nil
}

func (w *Worker) staleLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.staleAfter)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			cleaned, err := w.queue.CleanupStale(w.ctx, w.staleAfter)
			if err != nil {
				w.logger.Error("error cleaning stale events", "error", err)
			} else if cleaned > 0 {
				w.logger.Info("requeued stale events", "count", cleaned)
			}
		}
	}
}
