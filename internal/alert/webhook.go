package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/david/fare-finder/internal/models"
)

// WebhookNotifier posts a chat message for each activated deal.
type WebhookNotifier struct {
	webhookURL string
	client     *http.Client
	enabled    bool
}

func NewWebhookNotifier(webhookURL string) *WebhookNotifier {
	enabled := webhookURL != ""
	if enabled {
		log.Printf("[Alert] Webhook notifier initialized")
	} else {
		log.Printf("[Alert] Webhook notifier disabled (no webhook URL)")
	}
	return &WebhookNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		enabled:    enabled,
	}
}

type webhookMessage struct {
	MsgType string         `json:"msg_type"`
	Content webhookContent `json:"content"`
	Deal    Message        `json:"deal"`
}

type webhookContent struct {
	Text string `json:"text"`
}

func (n *WebhookNotifier) DealActivated(ctx context.Context, d models.Deal, route models.Route) error {
	if !n.enabled {
		return nil
	}
	msg := NewMessage(d, route)
	body, err := json.Marshal(webhookMessage{
		MsgType: "text",
		Content: webhookContent{Text: msg.Summary()},
		Deal:    msg,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
