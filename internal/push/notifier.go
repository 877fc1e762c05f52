package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/snaglist/internal/dispatch"
	"github.com/dukerupert/snaglist/internal/model"
	"github.com/dukerupert/snaglist/internal/websocket"
)

type subscriptionStore interface {
	ListByOwner(ctx context.Context, ownerID string) ([]model.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

// Notifier alerts an owner's browsers when one of their links is locked
// after repeated wrong PINs. Other events are left to the live hub.
type Notifier struct {
	svc     *Service
	subs    subscriptionStore
	queue   *dispatch.Queue
	baseURL string
	logger  *slog.Logger
}

func NewNotifier(svc *Service, subs subscriptionStore, queue *dispatch.Queue, baseURL string, logger *slog.Logger) *Notifier {
	return &Notifier{
		svc:     svc,
		subs:    subs,
		queue:   queue,
		baseURL: baseURL,
		logger:  logger.With("component", "push"),
	}
}

// Publish implements access.Publisher. Delivery happens on the dispatch
// queue so the PIN request never waits on a push service.
func (n *Notifier) Publish(ownerID string, msg websocket.Message) {
	if msg.Type != websocket.TypePINLocked {
		return
	}
	payload := Payload{
		Title: "Link locked",
		Body:  "A contractor link was locked after too many wrong PINs.",
		URL:   n.baseURL + "/links/" + msg.LinkID,
		Tag:   "pin_locked:" + msg.LinkID,
	}
	err := n.queue.Submit(dispatch.Job{
		Name: "push pin_locked",
		Run: func(ctx context.Context) error {
			return n.notifyOwner(ctx, ownerID, payload)
		},
	})
	if err != nil {
		n.logger.Warn("push not queued", "link_id", msg.LinkID, "error", err)
	}
}

func (n *Notifier) notifyOwner(ctx context.Context, ownerID string, payload Payload) error {
	subs, err := n.subs.ListByOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	var failed int
	for i := range subs {
		sub := &subs[i]
		err := n.svc.Send(ctx, sub, payload)
		switch {
		case err == nil:
		case errors.Is(err, ErrExpired):
			n.logger.Info("removing expired push subscription", "subscription_id", sub.ID)
			if err := n.subs.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
				n.logger.Error("delete expired subscription", "subscription_id", sub.ID, "error", err)
			}
		default:
			failed++
			n.logger.Warn("push send failed", "subscription_id", sub.ID, "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d push sends failed", failed, len(subs))
	}
	return nil
}
