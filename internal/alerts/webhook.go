package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"signal-engine/internal/logging"
)

// WebhookConfig configures the outbound alert webhook.
type WebhookConfig struct {
	URL     string `json:"url"`
	AuthKey string `json:"auth_key"`
}

// WebhookNotifier posts alerts as JSON to a configured endpoint.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("Content-Type", "application/json")
	if cfg.AuthKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.AuthKey)
	}
	return &WebhookNotifier{client: client, url: cfg.URL}
}

func (n *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(a).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("posting alert webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode())
	}
	return nil
}

// LogNotifier writes alerts to the structured log. It is the default when no
// webhook is configured, so the pipeline behaves the same either way.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, a Alert) error {
	log := logging.Component("alerts")
	log.Info().
		Str("symbol", a.Symbol).
		Str("strategy", a.StrategyID).
		Str("grade", string(a.Grade)).
		Str("direction", string(a.Direction)).
		Str("entry", a.Entry).
		Str("stop", a.StopLoss).
		Str("target", a.TakeProfit).
		Msg("trade alert")
	return nil
}
