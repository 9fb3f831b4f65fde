package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Handler processes one item released by a DelayQueue.
type Handler[T any] func(ctx context.Context, item T) error

// Worker owns the consumer loop of one DelayQueue. It runs Run on its own
// goroutine and joins it on Stop.
type Worker[T any] struct {
	name   string
	queue  *DelayQueue[T]
	handle Handler[T]
	logger Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewWorker creates a worker draining queue into handle. name identifies the
// queue in logs.
func NewWorker[T any](name string, queue *DelayQueue[T], handle Handler[T], logger Logger) *Worker[T] {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Worker[T]{name: name, queue: queue, handle: handle, logger: logger}
}

// Start launches the consumer loop. It returns ErrAlreadyStarted if the
// loop is already running.
func (w *Worker[T]) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, w.name)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go func(done chan struct{}) {
		defer close(done)
		Run(ctx, w.queue, w.handle, queueLogger{Logger: w.logger, queue: w.name})
	}(w.done)

	w.logger.Debug("dispatch worker started", "queue", w.name)
	return nil
}

// Stop cancels the loop and waits for it to exit. Items still pending in
// the queue are left there. Safe to call when not running.
func (w *Worker[T]) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.running = false
	w.mu.Unlock()

	cancel()
	<-done
	w.logger.Debug("dispatch worker stopped", "queue", w.name, "pending", w.queue.Len())
}

// Run drains q into handle until ctx is cancelled. The loop survives
// handler errors and panics. Items still pending when it returns stay in q.
func Run[T any](ctx context.Context, q *DelayQueue[T], handle Handler[T], logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	for {
		item, err := q.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				logger.Error("dispatch queue wait failed", "error", err)
			}
			return
		}
		process(ctx, item, handle, logger)
	}
}

// process runs one handler call with panic containment.
func process[T any](ctx context.Context, item T, handle Handler[T], logger Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dispatch handler panic recovered", "panic", r)
		}
	}()

	if err := handle(ctx, item); err != nil {
		logger.Warn("dispatch handler failed", "error", err)
	}
}

// queueLogger tags every record with the queue name.
type queueLogger struct {
	Logger
	queue string
}

func (l queueLogger) Debug(msg string, args ...any) { l.Logger.Debug(msg, l.tag(args)...) }
func (l queueLogger) Info(msg string, args ...any)  { l.Logger.Info(msg, l.tag(args)...) }
func (l queueLogger) Warn(msg string, args ...any)  { l.Logger.Warn(msg, l.tag(args)...) }
func (l queueLogger) Error(msg string, args ...any) { l.Logger.Error(msg, l.tag(args)...) }

func (l queueLogger) tag(args []any) []any {
	return append([]any{"queue", l.queue}, args...)
}
