// Package web 触发入口与运维接口的 HTTP 层
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/XXueTu/graph_automation/application"
)

// Services 服务器依赖的应用服务
type Services struct {
	Workflows *application.WorkflowService
	Triggers  *application.TriggerService
	Runs      *application.RunService
	// Metrics 可选，挂载到 /metrics
	Metrics http.Handler
}

// Config 服务器配置
type Config struct {
	Addr            string
	MaxBodyBytes    int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxBodyBytes:    1 << 20,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server Web服务器
type Server struct {
	services Services
	config   Config
	router   *mux.Router
	logger   *slog.Logger
	started  time.Time
}

// NewServer 创建Web服务器
func NewServer(services Services, config Config, logger *slog.Logger) *Server {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	server := &Server{
		services: services,
		config:   config,
		router:   mux.NewRouter(),
		logger:   logger.With("component", "http"),
		started:  time.Now(),
	}
	server.setupRoutes()
	return server
}

// Handler 带中间件的根处理器
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start 启动服务器，ctx 取消后优雅关闭
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.config.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	automation := s.router.PathPrefix("/automation").Subrouter()
	automation.HandleFunc("/events", s.handleRecordEvent).Methods(http.MethodPost)
	automation.HandleFunc("/ticks", s.handleTick).Methods(http.MethodPost)
	automation.HandleFunc("/webhooks/{path:.+}", s.handleWebhook)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/workflows", s.listWorkflows).Methods(http.MethodGet)
	api.HandleFunc("/workflows", s.publishWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/workflows/validate", s.validateWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}", s.getWorkflow).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.listRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.getRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/records", s.getRecords).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/cancel", s.cancelRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/{id}/retry", s.retryRun).Methods(http.MethodPost)

	if s.services.Metrics != nil {
		s.router.Handle("/metrics", s.services.Metrics).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// enableCORS 启用CORS
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Signature")

		// Webhook 路径的 OPTIONS 交给触发器判断方法
		if r.Method == http.MethodOptions && !isWebhookPath(r.URL.Path) {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth 健康检查
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}
