package notification

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// HTTPDispatcher 以 JSON POST 投递，用于 webhook 与聊天渠道
type HTTPDispatcher struct {
	defaultURL string
	chat       bool
	client     *http.Client
}

// NewWebhookDispatcher 通用 webhook 渠道，消息可携带目标 URL
func NewWebhookDispatcher(defaultURL string, timeout time.Duration) *HTTPDispatcher {
	return newHTTPDispatcher(defaultURL, false, timeout)
}

// NewChatDispatcher 聊天服务渠道（Slack 兼容的 incoming webhook）
func NewChatDispatcher(url string, timeout time.Duration) *HTTPDispatcher {
	return newHTTPDispatcher(url, true, timeout)
}

func newHTTPDispatcher(url string, chat bool, timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDispatcher{defaultURL: url, chat: chat, client: &http.Client{Timeout: timeout}}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, msg Message) error {
	target := msg.URL
	if target == "" {
		target = d.defaultURL
	}
	if target == "" {
		return fmt.Errorf("%w: no target url for %s", ErrRejected, msg.Channel)
	}

	var payload interface{} = msg
	if d.chat {
		text := msg.Body
		if msg.Subject != "" {
			text = "*" + msg.Subject + "*\n" + msg.Body
		}
		payload = map[string]interface{}{"text": text}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", ErrRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "graph-automation/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, target, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: %s returned %d", ErrRejected, target, resp.StatusCode)
	}
	return nil
}
