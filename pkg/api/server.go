// Package api is the HTTP surface: gin route groups under /api/v1, JWT auth,
// CORS, rate limiting, the websocket upgrade path, and health/metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeclash-io/codeclash/pkg/coach"
	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/events"
	"github.com/codeclash-io/codeclash/pkg/execqueue"
	"github.com/codeclash-io/codeclash/pkg/leaderboard"
	"github.com/codeclash-io/codeclash/pkg/match"
	"github.com/codeclash-io/codeclash/pkg/matchmaking"
	"github.com/codeclash-io/codeclash/pkg/ratelimit"
	"github.com/codeclash-io/codeclash/pkg/services"
	"github.com/codeclash-io/codeclash/pkg/store"
)

// Server is the HTTP server over the domain services.
type Server struct {
	cfg *config.Config

	users      *services.UserService
	challenges *services.ChallengeService
	matches    *services.MatchService
	machine    *match.Machine
	queue      *matchmaking.Queue
	execQueue  *execqueue.Queue
	board      *leaderboard.Board
	coach      *coach.Service
	limiter    *ratelimit.Limiter
	manager    *events.ConnectionManager
	store      *store.Store
	db         *sqlx.DB

	httpServer *http.Server
}

// Deps bundles the server's dependencies.
type Deps struct {
	Users      *services.UserService
	Challenges *services.ChallengeService
	Matches    *services.MatchService
	Machine    *match.Machine
	Queue      *matchmaking.Queue
	ExecQueue  *execqueue.Queue
	Board      *leaderboard.Board
	Coach      *coach.Service
	Limiter    *ratelimit.Limiter
	Manager    *events.ConnectionManager
	Store      *store.Store
	DB         *sqlx.DB
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	return &Server{
		cfg:        cfg,
		users:      deps.Users,
		challenges: deps.Challenges,
		matches:    deps.Matches,
		machine:    deps.Machine,
		queue:      deps.Queue,
		execQueue:  deps.ExecQueue,
		board:      deps.Board,
		coach:      deps.Coach,
		limiter:    deps.Limiter,
		manager:    deps.Manager,
		store:      deps.Store,
		db:         deps.DB,
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(corsMiddleware(s.cfg.AllowedOrigins))

	router.GET("/health", s.handleHealth)
	router.GET("/system", s.handleSystem)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", s.handleWebSocket)

	v1 := router.Group("/api/v1")

	auth := v1.Group("/auth")
	auth.POST("/register", s.rateLimit("register", 5, time.Minute), s.handleRegister)
	auth.POST("/login", s.rateLimit("login", 10, time.Minute), s.handleLogin)
	auth.GET("/me", s.requireAuth(), s.handleMe)

	users := v1.Group("/users", s.requireAuth())
	users.GET("/:id", s.handleUserProfile)
	users.PUT("/me", s.handleUpdateProfile)
	users.GET("/:id/stats", s.handleUserStats)
	users.GET("/:id/matches", s.handleMatchHistory)

	mm := v1.Group("/matchmaking", s.requireAuth())
	mm.POST("/join", s.rateLimit("matchmaking", 10, time.Minute), s.handleQueueJoin)
	mm.POST("/leave", s.handleQueueLeave)
	mm.GET("/status", s.handleQueueStatus)
	mm.POST("/custom", s.handleCustomMatch)

	v1.POST("/execute", s.requireAuth(), s.rateLimit("execute", 30, time.Minute), s.handleExecute)

	matches := v1.Group("/matches", s.requireAuth())
	matches.GET("/active", s.handleActiveMatches)
	matches.GET("/:id", s.handleGetMatch)
	matches.GET("/:id/replay", s.handleMatchReplay)
	matches.GET("/:id/chat", s.handleMatchChat)

	lb := v1.Group("/leaderboard")
	lb.GET("/:period", s.handleLeaderboardTop)
	lb.GET("/:period/rank/:userId", s.handleLeaderboardRank)
	lb.GET("/:period/around/:userId", s.handleLeaderboardAround)

	challenges := v1.Group("/challenges", s.requireAuth())
	challenges.GET("", s.handleListChallenges)

	coachGroup := v1.Group("/coach", s.requireAuth())
	coachGroup.POST("/analysis/:matchId", s.rateLimit("analysis", 10, time.Minute), s.handleRequestAnalysis)
	coachGroup.GET("/analysis/:matchId", s.handleAnalysis)
	coachGroup.GET("/history", s.handleAnalysisHistory)
	coachGroup.GET("/timeline", s.handleAnalysisTimeline)
	coachGroup.GET("/summary", s.handleAnalysisSummary)
	coachGroup.GET("/trends", s.handleAnalysisTrends)
	coachGroup.GET("/weaknesses", s.handleWeaknessProfile)
	coachGroup.POST("/hints/:matchId", s.handleRequestHint)
	coachGroup.GET("/hints/:matchId", s.handleListHints)
	coachGroup.GET("/hints/:matchId/status", s.handleHintStatus)

	return router
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP server listening", "port", s.cfg.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs one line per request with latency and status.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds())
	}
}
