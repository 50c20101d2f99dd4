package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/parlor/internal/avatar"
	"github.com/ent0n29/parlor/internal/protocol"
	"github.com/ent0n29/parlor/internal/reliability"
	"github.com/ent0n29/parlor/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingPeriod   = 30 * time.Second
	wsQueueSize    = 256
)

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	store, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	detach := store.AttachViewer()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, wsQueueSize)
	enqueue := func(msg any) {
		t := messageTypeOf(msg)
		select {
		case outbound <- msg:
		default:
			// Writes stay single-threaded; a saturated queue drops the message.
			s.metrics.WSMessages.WithLabelValues("outbound_dropped", string(t)).Inc()
		}
	}

	unsubscribe := store.Subscribe(func(u session.Update) {
		if msg := updateMessage(store, u); msg != nil {
			enqueue(msg)
		}
	})
	defer unsubscribe()

	snap := store.Snapshot()
	enqueue(protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sessionID,
		Code:      "attached",
		Detail:    fmt.Sprintf("inactivity_ttl_ms=%d", s.sessions.InactivityTimeout().Milliseconds()),
	})
	enqueue(stateMessage(snap))
	enqueue(protocol.VoiceState{
		Type:      protocol.TypeVoiceState,
		SessionID: snap.SessionID,
		Voice:     snap.Voice,
		Listening: snap.Listening,
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.WSMessages.WithLabelValues("write_error", string(messageTypeOf(msg))).Inc()
					cancel()
					return
				}
				s.metrics.WSMessages.WithLabelValues("outbound", string(messageTypeOf(msg))).Inc()
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			enqueue(errorMessage(sessionID, "invalid_client_message", "gateway", err, false))
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", string(messageTypeOf(parsed))).Inc()
		if err := s.dispatch(ctx, store, parsed); err != nil {
			_, code := classifyError(err)
			enqueue(errorMessage(sessionID, code, "session", err, reliability.IsRetryable(err)))
		}
	}

	cancel()
	<-writerDone
	unsubscribe()
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()

	// The last viewer leaving tears the session down.
	if detach() {
		err := s.sessions.Remove(context.WithoutCancel(r.Context()), sessionID)
		if !errors.Is(err, session.ErrNotFound) {
			s.log.Info().Err(err).Str("session_id", sessionID).Msg("last viewer detached; session closed")
			s.metrics.SessionEvents.WithLabelValues("viewer_teardown").Inc()
		}
		s.syncActive()
	}
}

// dispatch applies one client message to the store.
func (s *Server) dispatch(ctx context.Context, store *session.Store, msg any) error {
	switch m := msg.(type) {
	case protocol.ClientControl:
		if m.SessionID != store.ID() {
			return session.ErrNotFound
		}
		switch m.Action {
		case protocol.ActionStop:
			err := store.Stop(ctx)
			s.syncActive()
			return err
		case protocol.ActionMute:
			return s.countMuteRejection(store.Voice().Mute(ctx))
		case protocol.ActionUnmute:
			return s.countMuteRejection(store.Voice().Unmute(ctx))
		case protocol.ActionStartVoiceChat:
			return store.StartVoiceChat(ctx, avatar.VoiceChatOptions{StartMuted: m.StartMuted})
		case protocol.ActionStopVoiceChat:
			return store.Voice().StopVoiceChat(ctx)
		case protocol.ActionInterrupt:
			return store.Interrupt(ctx)
		}
	case protocol.ClientMessage:
		if m.SessionID != store.ID() {
			return session.ErrNotFound
		}
		if m.Mode == "repeat" {
			return store.Repeat(ctx, m.Text)
		}
		return store.SendMessage(ctx, m.Text)
	}
	return nil
}

func (s *Server) countMuteRejection(err error) error {
	if err != nil && !errors.Is(err, session.ErrNotConnected) {
		s.metrics.MuteRejections.Inc()
		s.metrics.ObserveIndicator("mute_rejected")
	}
	return err
}

func updateMessage(store *session.Store, u session.Update) any {
	switch u.Kind {
	case session.UpdateState:
		msg := stateMessage(store.Snapshot())
		msg.State = string(u.State)
		return msg
	case session.UpdateTranscript:
		if u.Entry == nil {
			return nil
		}
		return protocol.TranscriptUpdate{Type: protocol.TypeTranscriptUpdate, SessionID: u.SessionID, Entry: *u.Entry}
	case session.UpdateVoice:
		if u.Voice == nil {
			return nil
		}
		return protocol.VoiceState{
			Type:      protocol.TypeVoiceState,
			SessionID: u.SessionID,
			Voice:     *u.Voice,
			Listening: u.Voice.Listening(),
		}
	case session.UpdateEvent:
		if u.Event == nil {
			return nil
		}
		return protocol.AvatarEvent{
			Type:      protocol.TypeAvatarEvent,
			SessionID: u.SessionID,
			Event:     string(u.Event.Type),
			TaskID:    u.Event.TaskID,
			Message:   u.Event.Message,
			TSMs:      u.Event.Timestamp.UnixMilli(),
		}
	case session.UpdateError:
		if u.Err == nil {
			return nil
		}
		_, code := classifyError(u.Err)
		return errorMessage(u.SessionID, code, "session", u.Err, reliability.IsRetryable(u.Err))
	}
	return nil
}

func stateMessage(snap session.Snapshot) protocol.SessionState {
	msg := protocol.SessionState{
		Type:      protocol.TypeSessionState,
		SessionID: snap.SessionID,
		State:     string(snap.State),
		Quality:   string(snap.Quality),
	}
	if snap.Stream != nil {
		msg.StreamURL = snap.Stream.URL
	}
	return msg
}

func errorMessage(sessionID, code, source string, err error, retryable bool) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    err.Error(),
	}
}

func messageTypeOf(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type
	case protocol.ClientMessage:
		return m.Type
	case protocol.SessionState:
		return m.Type
	case protocol.TranscriptUpdate:
		return m.Type
	case protocol.VoiceState:
		return m.Type
	case protocol.AvatarEvent:
		return m.Type
	case protocol.SystemEvent:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	default:
		return "unknown"
	}
}
