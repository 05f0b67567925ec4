package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"signum.org/internal/roster"
)

const webhookTimeout = 5 * time.Second

// Webhook posts decision requests as JSON to a configured URL. The receiver
// is expected to render the request and call the decision endpoint back with
// the message reference or request id.
type Webhook struct {
	URL    string
	Client *http.Client
}

var _ roster.Notifier = (*Webhook)(nil)

// NewWebhook creates a webhook notifier with a bounded-timeout client.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: webhookTimeout},
	}
}

type webhookPayload struct {
	TenantID   string         `json:"tenant_id"`
	MessageRef string         `json:"message_ref"`
	Request    roster.Request `json:"request"`
}

func (w *Webhook) PostDecisionRequest(ctx context.Context, tenantID string, req roster.Request) (string, error) {
	ref := uuid.NewString()
	body, err := json.Marshal(webhookPayload{
		TenantID:   tenantID,
		MessageRef: ref,
		Request:    req,
	})
	if err != nil {
		return "", fmt.Errorf("notify: encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("notify: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("notify: post decision request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return ref, nil
}
