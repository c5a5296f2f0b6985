package api

import (
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mangadrop/internal/clock"
	"mangadrop/internal/config"
	"mangadrop/internal/distribution"
	"mangadrop/internal/economy"
	"mangadrop/internal/feed"
	"mangadrop/internal/logging"
	"mangadrop/internal/metrics"
	"mangadrop/internal/stats"
	"mangadrop/internal/storage"
	"mangadrop/internal/sweeper"
)

type Dependencies struct {
	Config   config.Config
	Service  *distribution.Service
	Store    storage.Store
	Catalog  distribution.Catalog
	Economy  *economy.Service
	Hub      *feed.Hub
	Stats    stats.Recorder
	Metrics  *metrics.Counters
	Clock    clock.Clock
	Logger   *log.Logger
	Liveness *sweeper.Liveness
	Version  string
}

type Server struct {
	cfg       config.Config
	service   *distribution.Service
	store     storage.Store
	catalog   distribution.Catalog
	economy   *economy.Service
	hub       *feed.Hub
	stats     stats.Recorder
	metrics   *metrics.Counters
	clock     clock.Clock
	logger    *log.Logger
	liveness  *sweeper.Liveness
	version   string
	startedAt time.Time
	ipLimiter *ipLimiter
	Router    http.Handler
}

func NewServer(deps Dependencies) *Server {
	logSink := deps.Logger
	if logSink == nil {
		logSink = log.New(io.Discard, "", 0)
	}
	version := deps.Version
	if version == "" {
		version = "0.1"
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	var limiter *ipLimiter
	if deps.Config.HTTPRateRPS > 0 {
		limiter = newIPLimiter(deps.Config.HTTPRateRPS, deps.Config.HTTPRateBurst)
	}

	server := &Server{
		cfg:       deps.Config,
		service:   deps.Service,
		store:     deps.Store,
		catalog:   deps.Catalog,
		economy:   deps.Economy,
		hub:       deps.Hub,
		stats:     deps.Stats,
		metrics:   deps.Metrics,
		clock:     clk,
		logger:    logSink,
		liveness:  deps.Liveness,
		version:   version,
		startedAt: clk.Now(),
		ipLimiter: limiter,
	}

	server.Router = server.routes()
	return server
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r.Use(middleware.Timeout(timeout))
	r.Use(s.safeLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/statsz", s.handleStatsz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimitByIP)
		r.Post("/roll", s.handleRoll)
		r.Post("/claim", s.handleClaim)
		r.Get("/postings/{postingID}", s.handleGetPosting)
		r.Get("/users/{userID}/collection", s.handleCollection)
		r.Get("/users/{userID}/balance", s.handleBalance)
		r.Post("/users/{userID}/daily", s.handleDaily)
		r.Get("/rankings/claims", s.handleClaimRanking)
		r.Get("/rankings/balance", s.handleBalanceRanking)
		r.Get("/feed", s.handleFeed)
	})

	return r
}

func (s *Server) safeLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		logging.Allowlist(s.logger, map[string]string{
			"method":      r.Method,
			"route":       route,
			"status":      strconv.Itoa(ww.Status()),
			"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
			"ip_hash":     anonHash(clientIP(r)),
		})
	})
}

func (s *Server) rateLimitByIP(next http.Handler) http.Handler {
	if s.ipLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ipLimiter.Allow(clientIP(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
