package api

import (
	"net/http"
	"time"

	"github.com/jsayol/qr-signin/internal/api/middleware"
	"github.com/jsayol/qr-signin/internal/audit"
	"github.com/jsayol/qr-signin/internal/config"
	"github.com/jsayol/qr-signin/internal/core"
	"github.com/jsayol/qr-signin/internal/qr"
	"github.com/jsayol/qr-signin/internal/service"
	"github.com/jsayol/qr-signin/internal/session"
	"github.com/jsayol/qr-signin/internal/tasks"
)

type Server struct {
	tokenService *service.TokenService
	sessions     *session.Registry
	taskManager  *tasks.Manager
	auditor      core.Auditor
	encoder      qr.Encoder
	maxWait      time.Duration
}

func NewServer(
	tokenService *service.TokenService,
	sessions *session.Registry,
	taskManager *tasks.Manager,
	auditor core.Auditor,
	cfg *config.Config,
) *Server {
	if auditor == nil {
		auditor = audit.NewNoopAuditor()
	}

	return &Server{
		tokenService: tokenService,
		sessions:     sessions,
		taskManager:  taskManager,
		auditor:      auditor,
		encoder:      qr.NewEncoder(cfg.QR),
		maxWait:      cfg.Notify.MaxWait,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// public routes
	mux.HandleFunc("GET "+HealthCheckRoute, s.handleHealth)
	mux.HandleFunc("GET "+AboutRoute, s.handleAbout)

	// the unauthenticated device side of the exchange
	mux.HandleFunc("GET "+IssueCodeRoute, s.handleIssue)
	mux.HandleFunc("GET "+WaitForCredRoute, s.handleWait)
	mux.HandleFunc("POST "+CancelTokenRoute, s.handleCancel)

	// claiming requires an existing verified session
	authenticated := middleware.SessionAuth(s.sessions)
	mux.Handle("POST "+ClaimTokenRoute, authenticated(http.HandlerFunc(s.handleClaim)))

	// admin routes
	adminMux := http.NewServeMux()
	adminMux.HandleFunc("GET "+ListAuditsRoute, s.handleListAudits)
	adminMux.HandleFunc("GET "+ListTasksRoute, s.handleListTasks)
	adminMux.HandleFunc("POST "+TriggerTaskRoute, s.handleTriggerTask)
	adminMux.HandleFunc("GET "+LogsForTaskRoute, s.handleTaskLogs)
	mux.Handle(AuditParent, authenticated(adminMux))
	mux.Handle(TaskParent, authenticated(adminMux))

	return middleware.RecoverMiddleware(
		middleware.CorrelationIDMiddleware(
			middleware.LoggingMiddleware(
				mux)))
}
