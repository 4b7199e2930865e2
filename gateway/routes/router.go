package routes

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"accesspay/core"
	"accesspay/gateway/middleware"
	"accesspay/storage/eventlog"
)

// EventQuerier serves historical events.
type EventQuerier interface {
	Query(ctx context.Context, f eventlog.Filter) ([]eventlog.Record, error)
}

type Config struct {
	Node          *core.Node
	Events        EventQuerier
	Stream        http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
	ServiceName   string
}

// New returns the gateway handler. Reads are public; writes act for the
// authenticated caller when an Authenticator is enabled.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{node: cfg.Node, events: cfg.Events, auth: cfg.Authenticator, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware("api"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/escrows/{id}", h.getEscrow)
	r.Get("/splits/{id}", h.getSplit)
	r.Get("/splits/{id}/preview", h.previewSplit)
	r.Get("/balances/{address}", h.getBalance)
	r.Get("/token-accounts/{address}", h.getTokenAccount)
	r.Get("/credentials/{id}", h.getCredential)
	r.Get("/events", h.listEvents)
	if cfg.Stream != nil {
		r.Handle("/events/stream", cfg.Stream)
	}

	r.Group(func(w chi.Router) {
		if cfg.Authenticator != nil {
			w.Use(cfg.Authenticator.Middleware("write"))
		}
		w.Post("/escrows", h.initializeEscrow)
		w.Post("/escrows/{id}/buy", h.buyAndMint)
		w.Post("/escrows/{id}/cancel", h.cancelEscrow)
		w.Post("/splits", h.initializeSplit)
		w.Post("/splits/{id}/distribute", h.distribute)
		w.Post("/settlements", h.settle)
		w.Post("/token-accounts", h.openTokenAccount)
	})

	name := cfg.ServiceName
	if name == "" {
		name = "accesspayd"
	}
	return otelhttp.NewHandler(r, name)
}
