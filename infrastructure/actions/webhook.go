package actions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/XXueTu/graph_automation/domain/action"
)

// WebhookConfig 出站 Webhook 配置，重试独立于节点级重试策略
type WebhookConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxBodyBytes   int64
}

// DefaultWebhookConfig 默认配置
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Timeout:        10 * time.Second,
		MaxRetries:     2,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		MaxBodyBytes:   1 << 20,
	}
}

type webhookParams struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    interface{}       `json:"body"`
}

// WebhookAction 发送 HTTP 请求，至少一次语义
type WebhookAction struct {
	config WebhookConfig
	client *http.Client
	logger *slog.Logger
}

// NewWebhookAction 创建 Webhook 动作
func NewWebhookAction(config WebhookConfig, logger *slog.Logger) *WebhookAction {
	defaults := DefaultWebhookConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookAction{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With("component", "webhook-action"),
	}
}

func (a *WebhookAction) Execute(ctx context.Context, req action.Request) (action.Result, error) {
	var params webhookParams
	if err := action.DecodeParams(req.Params, &params); err != nil {
		return action.Result{}, err
	}
	if strings.TrimSpace(params.URL) == "" {
		return action.Result{}, action.NewFatalError("invalid_params", "webhook url is required")
	}
	method := strings.ToUpper(params.Method)
	if method == "" {
		method = http.MethodPost
	}

	body, contentType, err := encodeBody(params.Body)
	if err != nil {
		return action.Result{}, action.WrapFatal("invalid_params", err, "encode webhook body")
	}

	backoff := a.config.InitialBackoff
	var lastErr error
	for try := 0; try <= a.config.MaxRetries; try++ {
		if try > 0 {
			a.logger.Debug("webhook retry", "run_id", req.RunID, "node_id", req.NodeID, "try", try, "error", lastErr)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return action.Result{}, action.WrapTransient("timeout", ctx.Err(), "webhook cancelled during backoff")
			case <-timer.C:
			}
			backoff *= 2
			if backoff > a.config.MaxBackoff {
				backoff = a.config.MaxBackoff
			}
		}

		result, err := a.send(ctx, req, method, params, body, contentType)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !action.IsTransientError(err) {
			return action.Result{}, err
		}
	}
	return action.Result{}, lastErr
}

func (a *WebhookAction) send(ctx context.Context, req action.Request, method string, params webhookParams, body []byte, contentType string) (action.Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, params.URL, reader)
	if err != nil {
		return action.Result{}, action.WrapFatal("invalid_request", err, "build webhook request")
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("User-Agent", "graph-automation/1.0")
	httpReq.Header.Set("Idempotency-Key", req.RunID+":"+req.NodeID)
	for key, value := range params.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return action.Result{}, action.WrapTransient("unreachable", err, fmt.Sprintf("%s %s", method, params.URL))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxBodyBytes))
	if err != nil {
		return action.Result{}, action.WrapTransient("read_body", err, "read webhook response")
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return action.Result{}, action.NewTransientErrorf(fmt.Sprintf("http_%d", resp.StatusCode), "%s %s returned %d", method, params.URL, resp.StatusCode)
	case resp.StatusCode >= 400:
		return action.Result{}, action.NewFatalErrorf(fmt.Sprintf("http_%d", resp.StatusCode), "%s %s returned %d", method, params.URL, resp.StatusCode)
	}

	return action.Result{Output: map[string]interface{}{
		"status_code": resp.StatusCode,
		"body":        decodeResponse(data),
	}}, nil
}

func encodeBody(body interface{}) ([]byte, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return []byte(v), "text/plain; charset=utf-8", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}
}

func decodeResponse(data []byte) interface{} {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err == nil {
		return decoded
	}
	return string(data)
}
