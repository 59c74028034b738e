package web

import (
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/XXueTu/graph_automation/application"
	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/trigger"
)

const webhookPrefix = "/automation/webhooks/"

// TriggerResponse 触发结果
type TriggerResponse struct {
	Matched int      `json:"matched"`
	RunIDs  []string `json:"run_ids"`
}

// WebhookResponse Webhook 触发结果，条件不满足时 RunID 为空
type WebhookResponse struct {
	Accepted bool   `json:"accepted"`
	RunID    string `json:"run_id,omitempty"`
}

// handleRecordEvent 行变更事件入口
func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var event trigger.RecordEvent
	if err := s.decodeJSON(w, r, &event); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if event.TableID == "" || event.RowID == "" || event.Kind == "" {
		s.writeError(w, http.StatusBadRequest, "table_id, row_id and kind are required")
		return
	}
	runs, err := s.services.Triggers.HandleRecordEvent(r.Context(), event)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, triggerResponse(runs))
}

// handleTick 日期触发时钟入口，空请求体使用服务器时间
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var tick trigger.Tick
	body, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := unmarshalBody(body, &tick); err != nil {
			s.writeFailure(w, r, err)
			return
		}
	}
	runs, err := s.services.Triggers.HandleTick(r.Context(), tick)
	if err != nil && len(runs) == 0 {
		s.writeFailure(w, r, err)
		return
	}
	if err != nil {
		s.logger.Warn("tick partially failed", "started", len(runs), "error", err)
	}
	s.writeJSON(w, http.StatusAccepted, triggerResponse(runs))
}

// handleWebhook 入站 Webhook，任意方法
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "read body: "+err.Error())
		return
	}
	run, err := s.services.Triggers.HandleWebhook(r.Context(), trigger.WebhookRequest{
		Path:    mux.Vars(r)["path"],
		Method:  r.Method,
		Headers: r.Header,
		Query:   r.URL.Query(),
		Body:    body,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if run == nil {
		s.writeJSON(w, http.StatusOK, WebhookResponse{Accepted: false})
		return
	}
	s.writeJSON(w, http.StatusAccepted, WebhookResponse{Accepted: true, RunID: run.ID})
}

func triggerResponse(runs []*execution.Run) TriggerResponse {
	response := TriggerResponse{Matched: len(runs), RunIDs: make([]string, 0, len(runs))}
	for _, run := range runs {
		response.RunIDs = append(response.RunIDs, run.ID)
	}
	return response
}

func isWebhookPath(path string) bool {
	return strings.HasPrefix(path, webhookPrefix)
}

func unmarshalBody(body []byte, out interface{}) error {
	if err := json.Unmarshal(body, out); err != nil {
		return application.WrapApplicationError(application.ErrInvalidRequest, "invalid request body: %v", err)
	}
	return nil
}
