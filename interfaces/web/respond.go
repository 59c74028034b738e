package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/XXueTu/graph_automation/application"
	"github.com/XXueTu/graph_automation/domain/execution"
	"github.com/XXueTu/graph_automation/domain/record"
	"github.com/XXueTu/graph_automation/domain/scheduler"
	"github.com/XXueTu/graph_automation/domain/trigger"
	"github.com/XXueTu/graph_automation/domain/workflow"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error  string                      `json:"error"`
	Errors []*workflow.StructuralError `json:"errors,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("encode response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

// writeFailure 按错误类型映射状态码
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if validation, ok := workflow.AsValidationError(err); ok {
		s.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "workflow validation failed", Errors: validation.Errors})
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, execution.ErrRunNotFound),
		errors.Is(err, workflow.ErrDefinitionNotFound),
		errors.Is(err, record.ErrRecordNotFound),
		errors.Is(err, trigger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, trigger.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, trigger.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, trigger.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, trigger.ErrPathConflict),
		errors.Is(err, execution.ErrTerminalState),
		errors.Is(err, execution.ErrVersionConflict),
		errors.Is(err, application.ErrNotRetryable):
		return http.StatusConflict
	case errors.Is(err, application.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrUnavailable):
		return http.StatusServiceUnavailable
	case workflow.IsWorkflowError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// readBody 读取受限长度的请求体
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
}

// decodeJSON 解析请求体
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	body, err := s.readBody(w, r)
	if err != nil {
		return application.WrapApplicationError(application.ErrInvalidRequest, "read body: %v", err)
	}
	if len(body) == 0 {
		return application.WrapApplicationError(application.ErrInvalidRequest, "request body is empty")
	}
	return unmarshalBody(body, out)
}

func parseIntParam(r *http.Request, param string, defaultValue int) (int, error) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, application.WrapApplicationError(application.ErrInvalidRequest, "%s must be an integer", param)
	}
	return intValue, nil
}
