package notification

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/imam/imam/internal/platform/metrics"
)

const (
	defaultBatch       = 100
	maxSendRetries     = 3
	maxRequeueAttempts = 5
)

// Worker drains due messages from a Queue and delivers each recipient
// through an SMSSender.
type Worker struct {
	queue    Queue
	sender   SMSSender
	interval time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	// retryPolicy builds the per-recipient backoff; tests shorten it.
	retryPolicy func() backoff.BackOff
}

// NewWorker creates a Worker polling every interval. m may be nil.
func NewWorker(queue Queue, sender SMSSender, interval time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{
		queue:    queue,
		sender:   sender,
		interval: interval,
		metrics:  m,
		logger:   logger.With().Str("component", "outbound-worker").Logger(),
		now:      time.Now,
		retryPolicy: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return backoff.WithMaxRetries(b, maxSendRetries)
		},
	}
}

// Run drains the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", w.interval).Msg("outbound worker started")
	for {
		if _, err := w.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error().Err(err).Msg("drain outbound queue")
		}
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("outbound worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Drain delivers every message currently due and returns how many were
// handled.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	handled := 0
	for {
		batch, err := w.queue.Due(ctx, w.now(), defaultBatch)
		if err != nil {
			return handled, err
		}
		for _, msg := range batch {
			w.deliver(ctx, msg)
			handled++
		}
		if len(batch) < defaultBatch {
			break
		}
	}

	if depth, err := w.queue.Len(ctx); err == nil {
		w.metrics.SetQueueDepth(depth)
	}
	return handled, nil
}

// deliver sends to each recipient with backoff. Recipients that still fail are
// requeued as a new message a minute per attempt later.
func (w *Worker) deliver(ctx context.Context, msg *Outbound) {
	var failed []string
	for _, to := range msg.Recipients {
		op := func() error {
			return w.sender.SendSMS(ctx, to, msg.Body)
		}
		if err := backoff.Retry(op, backoff.WithContext(w.retryPolicy(), ctx)); err != nil {
			w.metrics.RecordDelivery(false)
			w.logger.Warn().Err(err).Str("id", msg.ID).Str("to", to).Msg("delivery failed")
			failed = append(failed, to)
			continue
		}
		w.metrics.RecordDelivery(true)
	}

	if len(failed) == 0 {
		w.logger.Debug().Str("id", msg.ID).Int("recipients", len(msg.Recipients)).Msg("alert delivered")
		return
	}

	attempts := msg.Attempts + 1
	if attempts >= maxRequeueAttempts {
		w.logger.Error().Str("id", msg.ID).Strs("recipients", failed).Int("attempts", attempts).Msg("giving up on alert")
		return
	}
	retry := &Outbound{
		ID:         msg.ID,
		Kind:       msg.Kind,
		Body:       msg.Body,
		Recipients: failed,
		ETA:        w.now().Add(time.Duration(attempts) * time.Minute).UTC(),
		CreatedAt:  msg.CreatedAt,
		Attempts:   attempts,
	}
	if err := w.queue.Enqueue(ctx, retry); err != nil {
		w.logger.Error().Err(err).Str("id", msg.ID).Msg("requeue alert")
	}
}
