package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// VAPID holds the application server credentials.
type VAPID struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// Enabled reports whether both keys are set.
func (v VAPID) Enabled() bool {
	return v.PublicKey != "" && v.PrivateKey != ""
}

// WebPushSender delivers payloads through the Web Push protocol.
type WebPushSender struct {
	vapid  VAPID
	ttl    int
	client *http.Client
}

// NewWebPushSender creates a sender. ttl is in seconds.
func NewWebPushSender(vapid VAPID, ttl int, client *http.Client) *WebPushSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebPushSender{vapid: vapid, ttl: ttl, client: client}
}

// Send posts payload to the subscription endpoint.
func (s *WebPushSender) Send(ctx context.Context, sub Subscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.vapid.Subject,
		VAPIDPublicKey:  s.vapid.PublicKey,
		VAPIDPrivateKey: s.vapid.PrivateKey,
		TTL:             s.ttl,
	})
	if err != nil {
		return fmt.Errorf("web push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("web push: endpoint returned %s", resp.Status)
	}
	return nil
}
