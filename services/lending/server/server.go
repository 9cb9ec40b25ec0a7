package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendcore/integrations/eventstore"
	"lendcore/observability"
	"lendcore/services/lending/engine"
)

// EventQuerier serves the persisted event history.
type EventQuerier interface {
	Query(ctx context.Context, f eventstore.Filter) ([]eventstore.Record, error)
	Head() string
}

// Config captures the dependencies of the HTTP API.
type Config struct {
	Engine  engine.Engine
	Events  EventQuerier
	Auth    *Authenticator
	Limiter *RateLimiter
	Logger  *slog.Logger
	// RequestTimeout bounds every non-streaming request.
	RequestTimeout time.Duration
	// ServiceName names the otelhttp spans.
	ServiceName string
}

// Server is the lending HTTP API.
type Server struct {
	engine  engine.Engine
	events  EventQuerier
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	timeout time.Duration

	router http.Handler
}

// New constructs the router. A nil Auth accepts no credentials, so every
// mutating route answers 401.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lendcore-api"
	}
	if cfg.Auth == nil {
		cfg.Auth, _ = NewAuthenticator(AuthConfig{}, cfg.Logger)
	}
	s := &Server{
		engine:  cfg.Engine,
		events:  cfg.Events,
		auth:    cfg.Auth,
		limiter: cfg.Limiter,
		logger:  cfg.Logger.With("component", "http"),
		timeout: cfg.RequestTimeout,
	}
	s.router = otelhttp.NewHandler(s.buildRouter(), cfg.ServiceName)
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLog)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.auth.Middleware(false))
		api.Use(s.limiter.Middleware("api"))

		api.Get("/stream", s.streamEvents)

		api.Group(func(read chi.Router) {
			read.Use(s.withTimeout)
			read.Get("/markets", s.listMarkets)
			read.Get("/markets/{market}", s.getMarket)
			read.Get("/markets/{market}/positions/{account}", s.getPosition)
			read.Get("/markets/{market}/liquidatable", s.liquidatable)
			read.Post("/markets/{market}/accrue", s.accrue)
			read.Post("/markets/{market}/exchange-rate", s.updateExchangeRate)
			read.Get("/accounts/{account}/balances", s.balances)
			read.Get("/queues/{queue}/pools/{pool}/bids", s.listBids)
			read.Get("/events", s.queryEvents)
		})

		api.Group(func(write chi.Router) {
			write.Use(requireCaller)
			write.Use(s.withTimeout)
			write.Post("/markets/{market}/collateral/add", s.addCollateral)
			write.Post("/markets/{market}/collateral/remove", s.removeCollateral)
			write.Post("/markets/{market}/borrow", s.borrow)
			write.Post("/markets/{market}/repay", s.repay)
			write.Post("/markets/{market}/assets/add", s.addAsset)
			write.Post("/markets/{market}/assets/remove", s.removeAsset)
			write.Post("/markets/{market}/operators", s.setOperator)
			write.Post("/markets/{market}/pause", s.updatePause)
			write.Post("/markets/{market}/liquidate", s.liquidate)
			write.Post("/markets/{market}/execute", s.execute)

			write.Post("/admin/execute", s.adminExecute)
			write.Post("/admin/fees", s.withdrawFees)

			write.Post("/ledger/deposit", s.deposit)
			write.Post("/ledger/withdraw", s.withdraw)
			write.Post("/ledger/approvals", s.approve)

			write.Post("/queues/{queue}/pools/{pool}/bids", s.placeBid)
			write.Post("/queues/{queue}/pools/{pool}/bids/{id}/activate", s.activateBid)
			write.Delete("/queues/{queue}/pools/{pool}/bids/{id}", s.removeBid)
			write.Post("/queues/{queue}/redeem", s.redeem)
		})
	})
	return r
}

func (s *Server) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLog records metrics and one structured line per request.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observability.HTTP().Observe(route, r.Method, status, elapsed)
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"requestId", chimw.GetReqID(r.Context()),
			"duration", elapsed,
		)
	})
}
