// ABOUTME: Slack-style webhook notifier for newly observed alerts.
// ABOUTME: Provides a real webhook sink and a distinguishable no-op sink.

package slack

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Webhook delivers notification text to a configured webhook endpoint with a
// single POST of {"text": ...}.
type Webhook struct {
	httpc  *resty.Client
	url    string
	logger *logrus.Logger
}

// NewWebhook creates a webhook notifier with a bounded request timeout.
func NewWebhook(url string, timeout time.Duration, logger *logrus.Logger) *Webhook {
	httpc := resty.New()
	httpc.SetTimeout(timeout)
	httpc.SetHeader("Content-Type", "application/json")

	return &Webhook{
		httpc:  httpc,
		url:    url,
		logger: logger,
	}
}

// Name returns the sink name.
func (w *Webhook) Name() string {
	return "slack-webhook"
}

// Notify posts one message to the webhook. Delivery failure is returned for
// the caller to log; it must never abort the caller's poll cycle.
func (w *Webhook) Notify(ctx context.Context, text string) error {
	resp, err := w.httpc.R().
		SetContext(ctx).
		SetBody(map[string]string{"text": text}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("posting notification: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("posting notification: status %d", resp.StatusCode())
	}

	w.logger.WithField("bytes", len(text)).Debug("Delivered notification")
	return nil
}

// Noop is the sink used when no webhook is configured. It is a distinct type
// so tests can tell "not configured" apart from "configured but failing".
type Noop struct {
	logger *logrus.Logger
}

// NewNoop creates a no-op notifier.
func NewNoop(logger *logrus.Logger) *Noop {
	return &Noop{logger: logger}
}

// Name returns the sink name.
func (n *Noop) Name() string {
	return "noop"
}

// Notify logs the message instead of delivering it.
func (n *Noop) Notify(ctx context.Context, text string) error {
	n.logger.WithField("text", text).Info("No notification sink configured, dropping message")
	return nil
}
