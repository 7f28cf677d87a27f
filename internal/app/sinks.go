package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polysniper/polysniper/internal/domain"
	"github.com/polysniper/polysniper/internal/notify"
)

// auditFanout writes lifecycle events to the Postgres audit store and pushes
// order outcomes to the notifier. Either target may be nil; the fanout only
// forwards to what is wired.
type auditFanout struct {
	store    domain.AuditSink
	notifier *notify.Notifier
	logger   *slog.Logger
}

var _ domain.AuditSink = (*auditFanout)(nil)

// newAuditFanout returns nil when there is nothing to fan out to, so callers
// can pass the result straight into components that treat a nil sink as
// "auditing disabled".
func newAuditFanout(store domain.AuditSink, notifier *notify.Notifier, logger *slog.Logger) domain.AuditSink {
	if store == nil && notifier == nil {
		return nil
	}
	return &auditFanout{store: store, notifier: notifier, logger: logger}
}

func (f *auditFanout) RecordTransition(ctx context.Context, marketID string, tr domain.Transition) error {
	if f.store == nil {
		return nil
	}
	return f.store.RecordTransition(ctx, marketID, tr)
}

func (f *auditFanout) RecordOrder(ctx context.Context, marketID string, order domain.PreparedOrder, result domain.OrderResult) error {
	if f.notifier != nil {
		event := notify.EventOrderFilled
		title := "Order filled"
		if !result.Success {
			event = notify.EventOrderFailed
			title = "Order failed"
		}
		msg := fmt.Sprintf("market %s: %.0f units @ %.3f", marketID, order.Size(), order.Price())
		if !result.Success && result.Message != "" {
			msg += " (" + result.Message + ")"
		}
		if err := f.notifier.Notify(ctx, event, title, msg); err != nil {
			f.logger.Warn("order notification failed", slog.String("error", err.Error()))
		}
	}

	if f.store == nil {
		return nil
	}
	return f.store.RecordOrder(ctx, marketID, order, result)
}

func (f *auditFanout) RecordRecycle(ctx context.Context, event domain.RecycleEvent) error {
	if f.store == nil {
		return nil
	}
	return f.store.RecordRecycle(ctx, event)
}

// paperExecutor reports every order as filled at its limit price without
// touching the venue. Monitor mode runs the full scheduling and capital path
// against it.
type paperExecutor struct {
	logger *slog.Logger
}

var _ domain.OrderExecutor = (*paperExecutor)(nil)

func (p *paperExecutor) Execute(ctx context.Context, order domain.PreparedOrder) (domain.OrderResult, error) {
	p.logger.Info("paper order",
		slog.String("market_id", order.MarketID),
		slog.String("client_id", order.ClientID),
		slog.Float64("price", order.Price()),
		slog.Float64("size", order.Size()),
	)
	return domain.OrderResult{
		Success:     true,
		OrderID:     "paper-" + order.ClientID,
		FilledPrice: order.Price(),
	}, nil
}
