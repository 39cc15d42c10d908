package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"call-transcript-relay/internal/app"
	"call-transcript-relay/internal/observability/logging"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	logger := logging.WithComponent("http")
	h := &handlers{
		relay:        application.Relay,
		writeTimeout: application.Cfg.Relay.WriteTimeout,
		upgrader: websocket.Upgrader{
			// Subscribers are dashboards served from other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(logger))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		// Streams stay open for the life of the call, so they are logged by
		// the session rather than by the access log.
		r.Get("/transcripts/stream", h.streamSSE)
		r.Get("/transcripts/ws", h.streamWS)

		r.Group(func(r chi.Router) {
			r.Use(hlog.AccessHandler(accessLog))
			r.Post("/webhook", h.webhook)
			r.Post("/debug/inject", h.inject)
			r.Get("/debug/tasks", h.tasks)
			r.Get("/calls/{callId}/transcript", h.transcript)
		})
	})

	return r
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	var event *zerolog.Event
	if status >= http.StatusInternalServerError {
		event = hlog.FromRequest(r).Error()
	} else {
		event = hlog.FromRequest(r).Info()
	}
	event.
		Str("requestId", middleware.GetReqID(r.Context())).
		Str("method", r.Method).
		Stringer("url", r.URL).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("HTTP request")
}
