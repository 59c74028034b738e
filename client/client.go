// Package client 自动化服务的 HTTP 管理客户端
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/record"
	"github.com/XXueTu/graph_automation/domain/trigger"
	"github.com/XXueTu/graph_automation/domain/workflow"
)

// APIError 服务端返回的错误
type APIError struct {
	StatusCode int
	Message    string
	Errors     []*workflow.StructuralError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("automation api: %d %s", e.StatusCode, e.Message)
}

// Client SDK客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建客户端，timeout 为 0 时使用 30s
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ListOptions 运行列表过滤
type ListOptions struct {
	Status     string
	WorkflowID string
	Limit      int
	Offset     int
}

// TriggerResult 触发结果
type TriggerResult struct {
	Matched int      `json:"matched"`
	RunIDs  []string `json:"run_ids"`
}

// ValidateResult 校验结果
type ValidateResult struct {
	Valid  bool                        `json:"valid"`
	Errors []*workflow.StructuralError `json:"errors,omitempty"`
}

// ListRuns 列出运行
func (c *Client) ListRuns(ctx context.Context, opts ListOptions) ([]*execution.Run, error) {
	query := url.Values{}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.WorkflowID != "" {
		query.Set("workflow_id", opts.WorkflowID)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/api/v1/runs"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var runs []*execution.Run
	return runs, c.do(ctx, http.MethodGet, path, nil, "", &runs)
}

// GetRun 获取运行
func (c *Client) GetRun(ctx context.Context, id string) (*execution.Run, error) {
	var run execution.Run
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, "", &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRecords 获取运行的执行记录
func (c *Client) GetRecords(ctx context.Context, id string) ([]*record.NodeExecutionRecord, error) {
	var records []*record.NodeExecutionRecord
	return records, c.do(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id)+"/records", nil, "", &records)
}

// CancelRun 取消运行
func (c *Client) CancelRun(ctx context.Context, id string) (*execution.Run, error) {
	var run execution.Run
	if err := c.do(ctx, http.MethodPost, "/api/v1/runs/"+url.PathEscape(id)+"/cancel", nil, "", &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RetryRun 重试失败的运行，返回新运行
func (c *Client) RetryRun(ctx context.Context, id string) (*execution.Run, error) {
	var run execution.Run
	if err := c.do(ctx, http.MethodPost, "/api/v1/runs/"+url.PathEscape(id)+"/retry", nil, "", &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// PublishWorkflow 发布 JSON 或 YAML 定义
func (c *Client) PublishWorkflow(ctx context.Context, definition []byte) (*workflow.Definition, error) {
	var def workflow.Definition
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflows", definition, contentType(definition), &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ValidateWorkflow 远程校验定义
func (c *Client) ValidateWorkflow(ctx context.Context, definition []byte) (*ValidateResult, error) {
	var result ValidateResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflows/validate", definition, contentType(definition), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListWorkflows 列出工作流摘要
func (c *Client) ListWorkflows(ctx context.Context) ([]map[string]interface{}, error) {
	var workflows []map[string]interface{}
	return workflows, c.do(ctx, http.MethodGet, "/api/v1/workflows", nil, "", &workflows)
}

// SendEvent 投递行变更事件
func (c *Client) SendEvent(ctx context.Context, event trigger.RecordEvent) (*TriggerResult, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var result TriggerResult
	if err := c.do(ctx, http.MethodPost, "/automation/events", body, "application/json", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Tick 投递日期时钟信号
func (c *Client) Tick(ctx context.Context, tick trigger.Tick) (*TriggerResult, error) {
	body, err := json.Marshal(tick)
	if err != nil {
		return nil, err
	}
	var result TriggerResult
	if err := c.do(ctx, http.MethodPost, "/automation/ticks", body, "application/json", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, ctype string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var payload struct {
			Error  string                      `json:"error"`
			Errors []*workflow.StructuralError `json:"errors"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Errors = payload.Errors
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func contentType(definition []byte) string {
	if strings.HasPrefix(strings.TrimSpace(string(definition)), "{") {
		return "application/json"
	}
	return "application/yaml"
}
