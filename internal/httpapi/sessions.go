package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/parlor/internal/avatar"
	"github.com/ent0n29/parlor/internal/reliability"
	"github.com/ent0n29/parlor/internal/session"
	"github.com/ent0n29/parlor/internal/token"
	"github.com/ent0n29/parlor/internal/transcript"
	"github.com/ent0n29/parlor/internal/voice"
)

type textRequest struct {
	Text string `json:"text"`
}

type voiceStartRequest struct {
	StartMuted bool `json:"start_muted"`
}

type voiceResponse struct {
	SessionID string      `json:"session_id"`
	Voice     voice.State `json:"voice"`
	Listening bool        `json:"listening"`
}

type transcriptResponse struct {
	SessionID string             `json:"session_id"`
	Entries   []transcript.Entry `json:"entries"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	start := s.defaults
	if req.Config != nil {
		start = start.Merge(*req.Config)
	}
	if err := start.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	store := s.sessions.Create()
	store.Subscribe(s.observeUpdate)
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	if _, err := store.Start(r.Context(), start); err != nil {
		s.log.Warn().Err(err).Str("session_id", store.ID()).Msg("create session failed")
		s.observeProviderError("avatar", err)
		_ = s.sessions.Remove(context.WithoutCancel(r.Context()), store.ID())
		s.syncActive()
		s.respondErr(w, err)
		return
	}
	s.syncActive()

	resp := session.CreateResponse{
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	}
	if req.VoiceChat {
		if err := store.StartVoiceChat(r.Context(), avatar.VoiceChatOptions{StartMuted: req.StartMuted}); err != nil {
			s.log.Warn().Err(err).Str("session_id", store.ID()).Msg("voice chat at create failed")
			s.observeProviderError("voice", err)
			resp.VoiceChatError = err.Error()
		}
	}
	resp.Snapshot = store.Snapshot()
	respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, store.Snapshot())
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	err := store.Stop(r.Context())
	snap := store.Snapshot()
	_ = s.sessions.Remove(r.Context(), store.ID())
	s.syncActive()
	s.metrics.SessionEvents.WithLabelValues("stopped").Inc()
	if err != nil {
		// The session is inactive either way; the upstream stop is best effort.
		s.log.Warn().Err(err).Str("session_id", store.ID()).Msg("upstream stop failed")
		s.observeProviderError("avatar", err)
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, transcriptResponse{
		SessionID: store.ID(),
		Entries:   store.Transcript(),
	})
}

func (s *Server) handleVoiceStart(w http.ResponseWriter, r *http.Request) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req voiceStartRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := store.StartVoiceChat(r.Context(), avatar.VoiceChatOptions{StartMuted: req.StartMuted}); err != nil {
		s.observeProviderError("voice", err)
		s.respondErr(w, err)
		return
	}
	s.respondVoice(w, store)
}

func (s *Server) handleVoiceStop(w http.ResponseWriter, r *http.Request) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := store.Voice().StopVoiceChat(r.Context()); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondVoice(w, store)
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	s.setMuted(w, r, true)
}

func (s *Server) handleUnmute(w http.ResponseWriter, r *http.Request) {
	s.setMuted(w, r, false)
}

func (s *Server) setMuted(w http.ResponseWriter, r *http.Request, muted bool) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var err error
	if muted {
		err = store.Voice().Mute(r.Context())
	} else {
		err = store.Voice().Unmute(r.Context())
	}
	if err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			s.respondErr(w, err)
			return
		}
		s.metrics.MuteRejections.Inc()
		s.metrics.ObserveIndicator("mute_rejected")
		respondJSON(w, http.StatusBadGateway, errorResponse{
			Error:     err.Error(),
			Code:      "mute_rejected",
			Retryable: true,
		})
		return
	}
	s.respondVoice(w, store)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	s.speak(w, r, avatar.TaskTalk)
}

func (s *Server) handleRepeat(w http.ResponseWriter, r *http.Request) {
	s.speak(w, r, avatar.TaskRepeat)
}

func (s *Server) speak(w http.ResponseWriter, r *http.Request, task avatar.TaskType) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req textRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var err error
	if task == avatar.TaskRepeat {
		err = store.Repeat(r.Context(), req.Text)
	} else {
		err = store.SendMessage(r.Context(), req.Text)
	}
	if err != nil {
		s.observeProviderError("avatar", err)
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"session_id": store.ID(),
		"task_type":  task,
	})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	store, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := store.Interrupt(r.Context()); err != nil {
		s.observeProviderError("avatar", err)
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"session_id": store.ID()})
}

func (s *Server) handleRecentSessions(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		respondJSON(w, http.StatusOK, map[string]any{"sessions": []any{}})
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, 200)
	}
	records, err := s.archive.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list archived sessions failed")
		respondError(w, http.StatusInternalServerError, "archive_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": records})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Store, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return nil, false
	}
	store, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return nil, false
	}
	return store, true
}

func (s *Server) respondVoice(w http.ResponseWriter, store *session.Store) {
	st := store.Voice().State()
	respondJSON(w, http.StatusOK, voiceResponse{
		SessionID: store.ID(),
		Voice:     st,
		Listening: st.Listening(),
	})
}

func (s *Server) syncActive() {
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
}

// observeUpdate feeds store updates into the metrics.
func (s *Server) observeUpdate(u session.Update) {
	switch u.Kind {
	case session.UpdateState:
		s.metrics.SessionEvents.WithLabelValues("state_" + string(u.State)).Inc()
	case session.UpdateEvent:
		if u.Event != nil {
			s.metrics.AvatarEvents.WithLabelValues(string(u.Event.Type)).Inc()
			if u.Event.Type == avatar.EventStreamDisconnected {
				s.metrics.ObserveIndicator("stream_disconnected")
			}
		}
	case session.UpdateTranscript:
		if u.Entry != nil && u.Entry.Final {
			s.metrics.TranscriptEntries.WithLabelValues(string(u.Entry.Speaker)).Inc()
		}
	}
}

func (s *Server) observeProviderError(provider string, err error) {
	if err == nil || s.metrics == nil {
		return
	}
	code := "error"
	var se *reliability.StatusError
	var fe *token.FetchError
	switch {
	case errors.As(err, &se):
		code = strconv.Itoa(se.Code)
	case errors.Is(err, session.ErrStartCanceled):
		s.metrics.ObserveIndicator("start_canceled")
		return
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrEmptyMessage), errors.Is(err, avatar.ErrInvalidRequest):
		return
	case errors.As(err, &fe):
		provider = "token"
		code = "unreachable"
	}
	s.metrics.ProviderErrors.WithLabelValues(provider, code).Inc()
}
