package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"cineai/internal/domain/ports/adapter"
	"cineai/internal/usecase"
)

type Options struct {
	RequestTimeout time.Duration
	StreamTimeout  time.Duration
	// RatePerMinute caps authenticated requests per user; 0 disables limiting.
	RatePerMinute int
	// Health reports readiness of backing stores; nil means always healthy.
	Health func(ctx context.Context) error
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Server exposes chat, prompt enhancement, conversation management and generation jobs over HTTP.
type Server struct {
	chat    usecase.ChatUseCase
	gen     usecase.GenerationUseCase
	auth    adapter.TokenValidator
	limiter Limiter
	opts    Options
	log     *zerolog.Logger
}

func NewServer(chat usecase.ChatUseCase, gen usecase.GenerationUseCase, auth adapter.TokenValidator, limiter Limiter, opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = 5 * time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "HTTPServer").Logger()
	return &Server{chat: chat, gen: gen, auth: auth, limiter: limiter, opts: opts, log: &l}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Auth(s.auth), RateLimit(s.limiter, s.opts.RatePerMinute, s.log))

		r.With(Timeout(s.opts.StreamTimeout)).Post("/chat/stream", s.handleChatStream)

		r.Group(func(r chi.Router) {
			r.Use(Timeout(s.opts.RequestTimeout))

			r.Post("/chat", s.handleChat)
			r.Post("/prompts/enhance", s.handleEnhance)
			r.Get("/prompts/styles", s.handleStyles)

			r.Get("/conversations", s.handleListConversations)
			r.Get("/conversations/{id}/messages", s.handleHistory)
			r.Delete("/conversations/{id}", s.handleDeleteConversation)

			r.Post("/avatars/{id}/jobs", s.handleSubmitAvatar)
			r.Post("/voices/{id}/jobs", s.handleSubmitVoice)
			r.Post("/projects/{id}/submit", s.handleSubmitProject)
			r.Post("/projects/{id}/retry", s.handleRetryProject)

			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/{id}", s.handleJobStatus)
			r.Post("/jobs/{id}/retry", s.handleRetryJob)

			r.Get("/providers/{capability}", s.handleProviders)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Health(ctx); err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail logs unexpected errors before rendering them.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if statusFor(err) == http.StatusInternalServerError {
		l := s.logFor(r)
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, r, err)
}
