package rowstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/XXueTu/graph_automation/domain/trigger"
)

// ErrUnavailable 行存储暂时不可用，调用方可重试
var ErrUnavailable = errors.New("row store unavailable")

// HTTPConfig HTTP 行存储配置
type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPStore 通过 REST 接口访问外部行存储
//
//	GET   {base}/tables/{table}/rows
//	GET   {base}/tables/{table}/rows/{row}
//	PATCH {base}/tables/{table}/rows/{row}   {"fields": {...}}
type HTTPStore struct {
	baseURL string
	token   string
	client  *http.Client
}

type rowPayload struct {
	ID     string                 `json:"id"`
	Fields map[string]interface{} `json:"fields"`
}

// NewHTTPStore 创建 HTTP 行存储
func NewHTTPStore(config HTTPConfig) *HTTPStore {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.Token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPStore) GetRow(ctx context.Context, tableID, rowID string) (map[string]interface{}, error) {
	var row rowPayload
	if err := s.do(ctx, http.MethodGet, s.rowURL(tableID, rowID), nil, &row); err != nil {
		return nil, err
	}
	if row.Fields == nil {
		row.Fields = map[string]interface{}{}
	}
	return row.Fields, nil
}

func (s *HTTPStore) ListRows(ctx context.Context, tableID string) ([]trigger.Row, error) {
	var payload struct {
		Rows []rowPayload `json:"rows"`
	}
	if err := s.do(ctx, http.MethodGet, s.tableURL(tableID), nil, &payload); err != nil {
		return nil, err
	}
	rows := make([]trigger.Row, 0, len(payload.Rows))
	for _, row := range payload.Rows {
		rows = append(rows, trigger.Row{ID: row.ID, Fields: row.Fields})
	}
	return rows, nil
}

func (s *HTTPStore) UpdateRow(ctx context.Context, tableID, rowID string, fields map[string]interface{}) error {
	return s.do(ctx, http.MethodPatch, s.rowURL(tableID, rowID), map[string]interface{}{"fields": fields}, nil)
}

func (s *HTTPStore) tableURL(tableID string) string {
	return fmt.Sprintf("%s/tables/%s/rows", s.baseURL, url.PathEscape(tableID))
}

func (s *HTTPStore) rowURL(tableID, rowID string) string {
	return s.tableURL(tableID) + "/" + url.PathEscape(rowID)
}

func (s *HTTPStore) do(ctx context.Context, method, target string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrRowNotFound, target)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s %s returned %d", ErrUnavailable, method, target, resp.StatusCode)
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("row store %s %s returned %d: %s", method, target, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
