// Package notify delivers vulnerability reports to external channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/0x6d61/xssprobe/internal/engine"
)

// DefaultTimeout bounds a single webhook delivery.
const DefaultTimeout = 5 * time.Second

// WebhookSink posts reports as rich-text "post" messages, the format
// accepted by Feishu/Lark custom bots.
type WebhookSink struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

var _ engine.Sink = (*WebhookSink)(nil)

// NewWebhookSink creates a sink posting to url. A zero timeout selects
// DefaultTimeout.
func NewWebhookSink(url string, timeout time.Duration, logger *zap.Logger) *WebhookSink {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("webhook"),
	}
}

type textElement struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

type postBody struct {
	Title   string          `json:"title"`
	Content [][]textElement `json:"content"`
}

type postMessage struct {
	MsgType string `json:"msg_type"`
	Content struct {
		Post map[string]postBody `json:"post"`
	} `json:"content"`
}

func line(label, value string) []textElement {
	return []textElement{{Tag: "text", Text: label}, {Tag: "text", Text: value}}
}

// message renders r. Details carry the full report as indented JSON.
func message(r engine.VulnReport) (postMessage, error) {
	details, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return postMessage{}, err
	}
	var m postMessage
	m.MsgType = "post"
	m.Content.Post = map[string]postBody{
		"en_us": {
			Title: "XSS vulnerability found",
			Content: [][]textElement{
				line("Type: ", r.Type),
				line("URL: ", r.URL),
				line("Details:\n", string(details)),
				line("Time: ", r.Timestamp.Format(time.RFC3339)),
			},
		},
	}
	return m, nil
}

// Notify posts one report. Non-2xx responses are errors; nothing is retried.
func (s *WebhookSink) Notify(ctx context.Context, r engine.VulnReport) error {
	m, err := message(r)
	if err != nil {
		return fmt.Errorf("notify: encoding report: %w", err)
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("notify: encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: posting to webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	s.logger.Debug("report delivered", zap.String("url", r.URL), zap.String("parameter", r.Parameter))
	return nil
}
