package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dayframe/calsync/models"
)

// Sender delivers one push message to one subscription.
type Sender interface {
	Send(ctx context.Context, sub *models.PushSubscription, payload []byte) error
}

// ErrEndpointGone marks a permanent delivery failure: the push service says
// the endpoint no longer exists, so the subscription should be pruned, not
// retried.
var ErrEndpointGone = errors.New("push endpoint gone")

// messageTTL is how long the push service may hold an undelivered message.
// Reminders are time-sensitive; delivering one much later is worse than
// dropping it.
const messageTTL = 60

// WebPushSender delivers messages over the Web Push protocol with VAPID
// authentication.
type WebPushSender struct {
	options webpush.Options
}

// NewWebPushSender builds a sender from a VAPID key pair. subscriber is the
// contact address (a mailto: URL) push services may use to reach the
// operator.
func NewWebPushSender(vapidPublicKey, vapidPrivateKey, subscriber string) *WebPushSender {
	return &WebPushSender{
		options: webpush.Options{
			VAPIDPublicKey:  vapidPublicKey,
			VAPIDPrivateKey: vapidPrivateKey,
			Subscriber:      subscriber,
			TTL:             messageTTL,
			Urgency:         webpush.UrgencyHigh,
		},
	}
}

func (w *WebPushSender) Send(ctx context.Context, sub *models.PushSubscription, payload []byte) error {
	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, target, &w.options)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: push service returned %d", ErrEndpointGone, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}
