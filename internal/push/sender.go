package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/yymmt/bbs-test/internal/config"
	"github.com/yymmt/bbs-test/internal/store"
)

// Sender delivers one encrypted message to one subscription.
type Sender interface {
	Send(ctx context.Context, sub store.PushSubscription, message []byte) error
}

// DeliveryError is a non-2xx answer from the push service.
type DeliveryError struct {
	Status int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("push service responded %d", e.Status)
}

// Gone reports whether the push service considers the endpoint
// permanently invalid.
func (e *DeliveryError) Gone() bool {
	return e.Status == http.StatusNotFound || e.Status == http.StatusGone
}

// IsGone reports whether err carries a permanent endpoint failure.
func IsGone(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Gone()
}

// WebPushSender signs with VAPID and encrypts with aes128gcm.
type WebPushSender struct {
	subscriber string
	publicKey  string
	privateKey string
	ttl        int
	client     *http.Client
}

func NewWebPushSender(cfg config.Config, client *http.Client) *WebPushSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebPushSender{
		subscriber: cfg.VAPIDSubject,
		publicKey:  cfg.VAPIDPublicKey,
		privateKey: cfg.VAPIDPrivateKey,
		ttl:        int(cfg.PushTTL / time.Second),
		client:     client,
	}
}

func (s *WebPushSender) Send(ctx context.Context, sub store.PushSubscription, message []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, message, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             s.ttl,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{Status: resp.StatusCode}
	}
	return nil
}
