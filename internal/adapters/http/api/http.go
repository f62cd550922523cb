// Package api serves the ingestion, moderation and read endpoints over
// net/http.
package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	service "github.com/okian/marksheet/internal/app"
	"github.com/okian/marksheet/internal/domain/model"
	"github.com/okian/marksheet/pkg/logger"
)

// Dependencies are the service operations the handlers call.
type Dependencies interface {
	Ingest(ctx context.Context, batch []model.AttemptEvent) (model.BatchResult, error)
	Recompute(ctx context.Context, attemptID uuid.UUID) (*model.AttemptScore, error)
	Flag(ctx context.Context, attemptID uuid.UUID, reason string) (*model.Flag, error)
	ListAttempts(ctx context.Context, q service.AttemptQuery) (service.AttemptPage, error)
	AttemptDetail(ctx context.Context, attemptID uuid.UUID) (*service.AttemptDetail, error)
	Leaderboard(ctx context.Context, testID uuid.UUID, page, pageSize int) (service.LeaderboardPage, error)
	ListTests(ctx context.Context) ([]service.TestSummary, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	attemptsHandler    *AttemptsHandler
	leaderboardHandler *LeaderboardHandler

	origins []string
	logger  logger.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAllowedOrigins sets the origins allowed by CORS. "*" allows any.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.origins = origins }
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	s := &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		attemptsHandler:    NewAttemptsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("http")
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /api/ingest/attempts", MetricsMiddleware(s.attemptsHandler.HandleIngest, "ingest"))
	mux.HandleFunc("GET /api/attempts", MetricsMiddleware(s.attemptsHandler.HandleList, "list_attempts"))
	mux.HandleFunc("GET /api/attempts/{id}", MetricsMiddleware(s.attemptsHandler.HandleDetail, "attempt_detail"))
	mux.HandleFunc("POST /api/attempts/{id}/recompute", MetricsMiddleware(s.attemptsHandler.HandleRecompute, "recompute"))
	mux.HandleFunc("POST /api/attempts/{id}/flag", MetricsMiddleware(s.attemptsHandler.HandleFlag, "flag"))

	mux.HandleFunc("GET /api/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /api/tests", MetricsMiddleware(s.leaderboardHandler.HandleListTests, "tests"))
}

// Handler wraps next with request logging and CORS.
func (s *Server) Handler(next http.Handler) http.Handler {
	return RequestLogger(s.logger, CORS(s.origins, next))
}
