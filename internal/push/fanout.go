package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/yymmt/bbs-test/internal/metrics"
	"github.com/yymmt/bbs-test/internal/store"
)

type subscriptionStore interface {
	ThreadSubscriptions(ctx context.Context, threadID int64, excludeUUID string) ([]store.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// Builder produces the payload. It is only called when there is at least
// one recipient.
type Builder func(ctx context.Context) (Payload, error)

type Fanout struct {
	store   subscriptionStore
	sender  Sender
	metrics *metrics.Metrics
}

// NewFanout returns a fan-out that delivers through sender. A nil sender
// means push is not configured and Notify does nothing.
func NewFanout(st subscriptionStore, sender Sender, m *metrics.Metrics) *Fanout {
	return &Fanout{store: st, sender: sender, metrics: m}
}

// Notify delivers one message to every subscription of every member of
// threadID except actor. Deliveries are best effort: endpoints the push
// service reports as gone are deleted, other failures are logged and
// dropped. Only a failure to list recipients or build the payload is
// returned.
func (f *Fanout) Notify(ctx context.Context, threadID int64, actor string, build Builder) error {
	if f == nil || f.sender == nil {
		return nil
	}
	subs, err := f.store.ThreadSubscriptions(ctx, threadID, actor)
	if err != nil {
		return fmt.Errorf("list recipients: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := build(ctx)
	if err != nil {
		return fmt.Errorf("build push payload: %w", err)
	}
	message, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	for _, sub := range subs {
		err := f.sender.Send(ctx, sub, message)
		switch {
		case err == nil:
			f.metrics.ObserveDelivery(metrics.DeliverySent)
		case IsGone(err):
			f.metrics.ObserveDelivery(metrics.DeliveryPruned)
			if delErr := f.store.DeleteSubscription(ctx, sub.Endpoint); delErr != nil {
				slog.Warn("prune push subscription failed", "endpoint", sub.Endpoint, "error", delErr)
				continue
			}
			slog.Info("pruned expired push subscription", "endpoint", sub.Endpoint, "user_uuid", sub.UserUUID)
		default:
			f.metrics.ObserveDelivery(metrics.DeliveryFailed)
			slog.Warn("push delivery failed", "endpoint", sub.Endpoint, "thread_id", threadID, "error", err)
		}
	}
	return nil
}
