package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher hands messages to a Notifier on background workers so that the
// caller never waits for delivery. Delivery errors are logged and dropped.
type Dispatcher struct {
	log      *slog.Logger
	notifier Notifier
	timeout  time.Duration
	workers  int

	mu     sync.RWMutex
	closed bool
	jobs   chan Message
	wg     sync.WaitGroup
}

func NewDispatcher(log *slog.Logger, notifier Notifier, workers, queueSize int, timeout time.Duration) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		log:      log,
		notifier: notifier,
		timeout:  timeout,
		workers:  workers,
		jobs:     make(chan Message, queueSize),
	}
}

// Start launches the workers. They run until Shutdown drains the queue.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for msg := range d.jobs {
				d.deliver(msg)
			}
		}()
	}
}

// Submit enqueues msg without blocking. It reports false when the message was
// dropped because the queue is full or the dispatcher is shut down.
func (d *Dispatcher) Submit(msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.log.Error("Notification dropped, dispatcher stopped", slog.String("to", msg.To), slog.String("subject", msg.Subject))
		return false
	}

	select {
	case d.jobs <- msg:
		return true
	default:
		d.log.Error("Notification dropped, queue full", slog.String("to", msg.To), slog.String("subject", msg.Subject))
		return false
	}
}

// Shutdown stops accepting messages and waits for queued ones to be delivered
// or for ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Notifier panicked", slog.Any("panic", r), slog.String("to", msg.To))
		}
	}()

	if err := d.notifier.Send(ctx, msg.To, msg.Subject, msg.Body); err != nil {
		d.log.Error("Failed to send notification",
			slog.String("to", msg.To),
			slog.String("subject", msg.Subject),
			"error", err,
		)
		return
	}

	d.log.Debug("Notification sent", slog.String("to", msg.To), slog.String("subject", msg.Subject))
}
