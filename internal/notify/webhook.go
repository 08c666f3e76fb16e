package notify

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// webhookPayload is the body posted for every delivery.
type webhookPayload struct {
	Address string            `json:"address"`
	Type    string            `json:"type"`
	Data    map[string]string `json:"data,omitempty"`
}

type webhookResponse struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg,omitempty"`
}

// WebhookNotifier posts notifications to an external delivery endpoint
// (mail relay, chat bridge) that owns transport and formatting.
//
// The resty retry settings below cover transient transport errors within a
// single delivery attempt. Once Deliver returns, the outcome is final: the
// queue records a failed job and never re-enqueues it.
type WebhookNotifier struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewWebhookNotifier(endpoint string, logger *zap.Logger) *WebhookNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &WebhookNotifier{httpClient: client, logger: logger}
}

func (n *WebhookNotifier) Deliver(address, messageType string, data map[string]string) error {
	var out webhookResponse
	resp, err := n.httpClient.R().
		SetBody(webhookPayload{Address: address, Type: messageType, Data: data}).
		SetResult(&out).
		Post("/deliver")
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode())
	}
	if !out.OK {
		return fmt.Errorf("notification rejected: %s", out.Msg)
	}
	n.logger.Debug("notification delivered",
		zap.String("type", messageType),
	)
	return nil
}
