package notify

import (
	"context"
	"fmt"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"

	"github.com/grantly/grantly/pkg/config"
	"github.com/grantly/grantly/pkg/interfaces"
	"github.com/grantly/grantly/pkg/types"
)

// WebhookNotifier POSTs login events to a configured URL, retrying
// transient failures
type WebhookNotifier struct {
	client  *resty.Client
	url     string
	retries uint
}

// NewWebhookNotifier creates a webhook notifier from configuration
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	client := resty.New().SetTimeout(cfg.Timeout)

	retries := cfg.Retries
	if retries == 0 {
		retries = 3
	}
	return &WebhookNotifier{client: client, url: cfg.URL, retries: retries}
}

var _ interfaces.Notifier = (*WebhookNotifier)(nil)

// LoginSucceeded posts the event, retrying on transport errors and 5xx
func (w *WebhookNotifier) LoginSucceeded(ctx context.Context, event types.LoginEvent) error {
	return w.post(ctx, map[string]interface{}{
		"event": "login",
		"data":  event,
	})
}

// LoggedOut posts the logout marker
func (w *WebhookNotifier) LoggedOut(ctx context.Context, userID string) error {
	return w.post(ctx, map[string]interface{}{
		"event":   "logout",
		"user_id": userID,
	})
}

func (w *WebhookNotifier) post(ctx context.Context, body interface{}) error {
	return retry.Do(
		func() error {
			resp, err := w.client.R().SetContext(ctx).SetBody(body).Post(w.url)
			if err != nil {
				return err
			}
			if resp.StatusCode() >= 500 {
				return fmt.Errorf("webhook returned status %d", resp.StatusCode())
			}
			return nil
		},
		retry.Attempts(w.retries),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}
