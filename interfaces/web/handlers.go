package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/workflow"
)

// WorkflowSummary 工作流列表项
type WorkflowSummary struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Version     int                  `json:"version"`
	Status      workflow.Status      `json:"status"`
	Trigger     workflow.TriggerType `json:"trigger,omitempty"`
	NodeCount   int                  `json:"node_count"`
	PublishedAt *time.Time           `json:"published_at,omitempty"`
}

// ValidateResponse 校验结果
type ValidateResponse struct {
	Valid  bool                        `json:"valid"`
	Errors []*workflow.StructuralError `json:"errors,omitempty"`
}

// listWorkflows 列出每个工作流的最新版本
func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	defs, err := s.services.Workflows.ListWorkflows(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	response := make([]WorkflowSummary, 0, len(defs))
	for _, def := range defs {
		response = append(response, summarize(def))
	}
	s.writeJSON(w, http.StatusOK, response)
}

// getWorkflow 获取最新版本，?version= 指定历史版本
func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var (
		def *workflow.Definition
		err error
	)
	if raw := r.URL.Query().Get("version"); raw != "" {
		version, convErr := strconv.Atoi(raw)
		if convErr != nil || version <= 0 {
			s.writeError(w, http.StatusBadRequest, "version must be a positive integer")
			return
		}
		def, err = s.services.Workflows.GetWorkflowVersion(r.Context(), id, version)
	} else {
		def, err = s.services.Workflows.GetWorkflow(r.Context(), id)
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, def)
}

// publishWorkflow 发布工作流，请求体为 JSON 或 YAML 定义
func (s *Server) publishWorkflow(w http.ResponseWriter, r *http.Request) {
	def, ok := s.parseDefinition(w, r)
	if !ok {
		return
	}
	published, err := s.services.Workflows.PublishWorkflow(r.Context(), def)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, published)
}

// validateWorkflow 仅校验不发布
func (s *Server) validateWorkflow(w http.ResponseWriter, r *http.Request) {
	def, ok := s.parseDefinition(w, r)
	if !ok {
		return
	}
	if err := s.services.Workflows.ValidateWorkflow(def); err != nil {
		if validation, isValidation := workflow.AsValidationError(err); isValidation {
			s.writeJSON(w, http.StatusOK, ValidateResponse{Valid: false, Errors: validation.Errors})
			return
		}
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ValidateResponse{Valid: true})
}

func (s *Server) parseDefinition(w http.ResponseWriter, r *http.Request) (*workflow.Definition, bool) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return nil, false
	}
	def, err := workflow.ParseDefinition(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return def, true
}

// listRuns 列出运行，支持 status、workflow_id、limit、offset
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", 50)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	offset, err := parseIntParam(r, "offset", 0)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	runs, err := s.services.Runs.ListRuns(r.Context(), execution.ListFilter{
		Status:     execution.Status(r.URL.Query().Get("status")),
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if runs == nil {
		runs = []*execution.Run{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

// getRun 获取运行详情
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.services.Runs.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// getRecords 获取运行的节点执行记录
func (s *Server) getRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.services.Runs.GetRecords(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// cancelRun 取消运行
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.services.Runs.CancelRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// retryRun 从失败节点重新运行，返回新的运行
func (s *Server) retryRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.services.Runs.RetryRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, run)
}

func summarize(def *workflow.Definition) WorkflowSummary {
	summary := WorkflowSummary{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Version:     def.Version,
		Status:      def.Status,
		NodeCount:   len(def.Nodes),
		PublishedAt: def.PublishedAt,
	}
	if node, ok := def.TriggerNode(); ok && node.Trigger != nil {
		summary.Trigger = node.Trigger.Type
	}
	return summary
}
