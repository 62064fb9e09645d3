package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/consult-escrow/internal/cache"
	"github.com/wolfman30/consult-escrow/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/consult-escrow/internal/http/middleware"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Doctors            *handlers.DoctorsHandler
	Bookings           *handlers.BookingsHandler
	Wallet             *handlers.WalletHandler
	Calls              *handlers.CallsHandler
	Signals            *handlers.SignalsHandler
	AuthSecret         string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Cache is attached to every authenticated request (optional).
	Cache cache.Cache
	// BookingLimiter throttles POST /bookings per caller (optional).
	BookingLimiter httpmiddleware.Limiter
	// Ready reports backing-store health for /health (optional).
	Ready func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(httpmiddleware.NewOriginPolicy(cfg.CORSAllowedOrigins)))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.Ready))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Authenticated API
	r.Group(func(api chi.Router) {
		api.Use(httpmiddleware.Authenticate(cfg.AuthSecret))
		if cfg.Cache != nil {
			api.Use(httpmiddleware.RequestCache(cfg.Cache))
		}

		if cfg.Doctors != nil {
			api.Route("/doctors/{doctorID}", func(doc chi.Router) {
				doc.Get("/", cfg.Doctors.GetDoctor)
				doc.Get("/slots", cfg.Doctors.ListSlots)
			})
		}
		if cfg.Bookings != nil {
			api.Route("/bookings", func(b chi.Router) {
				b.Get("/", cfg.Bookings.List)
				create := http.Handler(http.HandlerFunc(cfg.Bookings.Create))
				if cfg.BookingLimiter != nil {
					create = httpmiddleware.RateLimit(cfg.BookingLimiter, cfg.Logger)(create)
				}
				b.Method(http.MethodPost, "/", create)
				b.Post("/{bookingID}/cancel", cfg.Bookings.Cancel)
			})
		}
		if cfg.Wallet != nil {
			api.Get("/wallet/balance", cfg.Wallet.Balance)
		}
		if cfg.Calls != nil {
			api.Route("/calls", func(c chi.Router) {
				c.Post("/", cfg.Calls.Create)
				c.Get("/{peerID}", cfg.Calls.State)
				c.Post("/{peerID}/accept", cfg.Calls.Accept)
				c.Post("/{peerID}/end", cfg.Calls.End)
			})
		}
		if cfg.Signals != nil {
			api.Get("/ws/signals", cfg.Signals.Serve)
		}
	})

	return r
}

func healthHandler(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
