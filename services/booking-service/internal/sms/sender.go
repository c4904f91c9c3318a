package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Sender delivers one-time codes to a client phone.
type Sender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

// New picks a sender by provider name: "webhook" posts to url, anything else only logs.
func New(provider, url, token string, logger *slog.Logger) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "webhook":
		if strings.TrimSpace(url) == "" {
			return nil, errors.New("SMS_WEBHOOK_URL is required for the webhook provider")
		}
		return NewWebhookSender(url, token), nil
	case "", "noop", "log":
		return NewLogSender(logger), nil
	}
	return nil, fmt.Errorf("unknown sms provider %q", provider)
}

type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url string, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *WebhookSender) ProviderID() string {
	return "sms-webhook"
}

func (s *WebhookSender) Send(ctx context.Context, to string, body string) error {
	raw, err := json.Marshal(map[string]string{
		"to":   to,
		"body": body,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms webhook returned %d", resp.StatusCode)
	}
	return nil
}

// LogSender records the delivery without sending anything. The body is not logged since
// it carries the code.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) ProviderID() string {
	return "sms-log"
}

func (s *LogSender) Send(_ context.Context, to string, _ string) error {
	if s.logger != nil {
		s.logger.Info("sms suppressed", "to", maskPhone(to))
	}
	return nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
