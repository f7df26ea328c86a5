package notifications

import (
	"context"
	"log/slog"
	"time"

	"github.com/albapepper/scoracle-relay/internal/metrics"
)

// Start runs poll cycles until ctx is cancelled. The pause is measured from
// the end of a cycle, so the effective period is processing time plus the
// interval. Intended to be called with `go`.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("Poll engine started", "interval", e.interval, "timezone", e.loc.String())

	for {
		if ctx.Err() != nil {
			e.logger.Info("Poll engine stopped", "cycles", e.Cycles())
			return
		}

		e.RunCycle(ctx)

		timer := time.NewTimer(e.interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			e.logger.Info("Poll engine stopped", "cycles", e.Cycles())
			return
		}
	}
}

// fanOut sends msg to every recipient, one call each, in order.
func (e *Engine) fanOut(ctx context.Context, recipients []int64, msg Message, res *CycleResult, log *slog.Logger) {
	for _, to := range recipients {
		if ctx.Err() != nil {
			return
		}
		e.deliver(ctx, to, msg, res, log)
	}
}

// deliver is the single place delivery errors are dropped. A failure is
// logged and counted, never retried, and never stops the caller's loop.
func (e *Engine) deliver(ctx context.Context, to int64, msg Message, res *CycleResult, log *slog.Logger) {
	if err := e.notifier.Send(ctx, to, msg); err != nil {
		res.Failed++
		metrics.NotificationsTotal.WithLabelValues(string(msg.Kind), "failed").Inc()
		log.Warn("Delivery failed", "recipient", to, "kind", msg.Kind, "error", err)
		return
	}
	res.Sent++
	metrics.NotificationsTotal.WithLabelValues(string(msg.Kind), "sent").Inc()
}
