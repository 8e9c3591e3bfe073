package worker

import (
	"context"
	"log/slog"
	"time"
)

// Retrier re-posts failed webhook deliveries. *service.WebhookDispatcher satisfies it.
type Retrier interface {
	RetryFailed(ctx context.Context, tenantID string) (int, error)
}

type WebhookRetryWorker struct {
	retrier  Retrier
	interval time.Duration
}

func NewWebhookRetryWorker(retrier Retrier, interval time.Duration) *WebhookRetryWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &WebhookRetryWorker{
		retrier:  retrier,
		interval: interval,
	}
}

// Start sweeps failed deliveries every interval until ctx is done.
func (w *WebhookRetryWorker) Start(ctx context.Context) {
	slog.Info("starting webhook retry worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("webhook retry worker stopped")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *WebhookRetryWorker) processBatch(ctx context.Context) {
	delivered, err := w.retrier.RetryFailed(ctx, "")
	if err != nil {
		slog.Error("webhook retry sweep failed", "delivered", delivered, "error", err)
		return
	}
	if delivered > 0 {
		slog.Info("webhook retries delivered", "count", delivered)
	}
}
