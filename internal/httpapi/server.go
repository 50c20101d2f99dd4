package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/parlor/internal/archive"
	"github.com/ent0n29/parlor/internal/avatar"
	"github.com/ent0n29/parlor/internal/config"
	"github.com/ent0n29/parlor/internal/observability"
	"github.com/ent0n29/parlor/internal/reliability"
	"github.com/ent0n29/parlor/internal/session"
	"github.com/ent0n29/parlor/internal/token"
	"github.com/ent0n29/parlor/internal/voice"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	defaults avatar.StartRequest
	tokens   token.Source
	archive  archive.Store
	metrics  *observability.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// Deps collects what the API serves from. Tokens backs the local access
// token endpoint and may be nil when no API key is configured.
type Deps struct {
	Sessions *session.Manager
	Defaults avatar.StartRequest
	Tokens   token.Source
	Archive  archive.Store
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:      cfg,
		sessions: deps.Sessions,
		defaults: deps.Defaults,
		tokens:   deps.Tokens,
		archive:  deps.Archive,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a session unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)

	r.Post("/api/get-access-token", s.handleAccessToken)

	r.Get("/v1/avatar/options", s.handleAvatarOptions)
	r.Get("/v1/avatar/sessions/recent", s.handleRecentSessions)
	r.Get("/v1/avatar/session/ws", s.handleSessionWS)
	r.Post("/v1/avatar/session", s.handleCreateSession)
	r.Route("/v1/avatar/session/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetSession)
		r.Post("/stop", s.handleStopSession)
		r.Get("/transcript", s.handleTranscript)
		r.Post("/voice/start", s.handleVoiceStart)
		r.Post("/voice/stop", s.handleVoiceStop)
		r.Post("/voice/mute", s.handleMute)
		r.Post("/voice/unmute", s.handleUnmute)
		r.Post("/message", s.handleMessage)
		r.Post("/repeat", s.handleRepeat)
		r.Post("/interrupt", s.handleInterrupt)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"client_mode":  s.clientMode(),
		"archive_mode": archiveMode(s.archive),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.NotFound(w, r)
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

// handleAccessToken exchanges the configured API key for a streaming token
// and returns it as plain text.
func (s *Server) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		respondError(w, http.StatusServiceUnavailable, "token_unavailable", token.ErrMissingAPIKey.Error())
		return
	}
	tok, err := s.tokens.Token(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("access token request failed")
		s.observeProviderError("token", err)
		s.respondErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(tok))
}

func (s *Server) clientMode() string {
	if s.cfg.UseMockClient() {
		return "mock"
	}
	return "http"
}

func archiveMode(store archive.Store) string {
	switch store.(type) {
	case *archive.PostgresStore:
		return "postgres"
	case *archive.RedisStore:
		return "redis"
	case *archive.InMemoryStore:
		return "in-memory"
	default:
		return "disabled"
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondErr maps domain errors onto HTTP status codes.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	respondJSON(w, status, errorResponse{
		Error:     err.Error(),
		Code:      code,
		Retryable: reliability.IsRetryable(err),
	})
}

func classifyError(err error) (int, string) {
	var fetchErr *token.FetchError
	var negErr *voice.NegotiationError
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, avatar.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, session.ErrEmptyMessage):
		return http.StatusBadRequest, "empty_message"
	case errors.Is(err, session.ErrSessionActive):
		return http.StatusConflict, "session_active"
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusConflict, "session_not_connected"
	case errors.Is(err, voice.ErrNegotiating):
		return http.StatusConflict, "voice_chat_negotiating"
	case errors.Is(err, session.ErrStartCanceled), errors.Is(err, voice.ErrSessionEnded):
		return http.StatusConflict, "session_ended"
	case errors.Is(err, token.ErrMissingAPIKey):
		return http.StatusServiceUnavailable, "token_unavailable"
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway, "token_fetch_failed"
	case errors.As(err, &negErr):
		return http.StatusBadGateway, "voice_chat_negotiation_failed"
	default:
		return http.StatusBadGateway, "upstream_error"
	}
}
