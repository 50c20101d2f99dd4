package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/parlor/internal/reliability"
)

type fakeAvatarAPI struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	tasks     []taskRequest
	stops     int
	voiceMsgs chan map[string]any
	voiceURL  chan string
}

func newFakeAvatarAPI(t *testing.T) *fakeAvatarAPI {
	t.Helper()
	f := &fakeAvatarAPI{
		t:         t,
		voiceMsgs: make(chan map[string]any, 8),
		voiceURL:  make(chan string, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/streaming.new", f.handleNew)
	mux.HandleFunc("/v1/streaming.start", f.ok)
	mux.HandleFunc("/v1/streaming.task", f.handleTask)
	mux.HandleFunc("/v1/streaming.interrupt", f.ok)
	mux.HandleFunc("/v1/streaming.stop", f.handleStop)
	mux.HandleFunc("/realtime", f.handleRealtime)
	mux.HandleFunc("/v1/ws/streaming.chat", f.handleVoice)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAvatarAPI) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + path
}

func (f *fakeAvatarAPI) handleNew(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer tok" {
		http.Error(w, "bad token", http.StatusUnauthorized)
		return
	}
	var body newSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AvatarName == "" {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code": 100,
		"data": map[string]any{
			"session_id":        "sess-1",
			"url":               "wss://media.example",
			"access_token":      "media-token",
			"realtime_endpoint": f.wsURL("/realtime"),
		},
	})
}

func (f *fakeAvatarAPI) ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (f *fakeAvatarAPI) handleTask(w http.ResponseWriter, r *http.Request) {
	var body taskRequest
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.tasks = append(f.tasks, body)
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *fakeAvatarAPI) handleStop(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *fakeAvatarAPI) handleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	_ = conn.WriteJSON(map[string]any{"type": "avatar_start_talking", "task_id": "t1"})
	_ = conn.WriteJSON(map[string]any{"type": "avatar_talking_message", "task_id": "t1", "message": "hi"})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *fakeAvatarAPI) handleVoice(w http.ResponseWriter, r *http.Request) {
	f.voiceURL <- r.URL.RawQuery
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		f.voiceMsgs <- msg
	}
}

func (f *fakeAvatarAPI) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func TestHTTPClientLifecycle(t *testing.T) {
	api := newFakeAvatarAPI(t)
	client := NewHTTPClient(HTTPConfig{BaseURL: api.server.URL, Logger: zerolog.Nop()}, "tok")

	events := make(chan EventType, 16)
	for _, et := range []EventType{EventStreamReady, EventAvatarStartTalking, EventAvatarTalkingMessage} {
		client.On(et, func(ev Event) { events <- ev.Type })
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.CreateStartAvatar(ctx, DefaultStartRequest())
	require.NoError(t, err)
	info := stream.Borrow()
	assert.Equal(t, "sess-1", info.SessionID)
	assert.Equal(t, "media-token", info.AccessToken)

	seen := map[EventType]bool{}
	deadline := time.After(3 * time.Second)
	for len(seen) < 3 {
		select {
		case et := <-events:
			seen[et] = true
		case <-deadline:
			t.Fatalf("timed out waiting for events, saw %v", seen)
		}
	}

	require.NoError(t, client.Speak(ctx, "hello", ""))
	api.mu.Lock()
	require.Len(t, api.tasks, 1)
	assert.Equal(t, TaskTalk, api.tasks[0].TaskType)
	assert.Equal(t, "sess-1", api.tasks[0].SessionID)
	api.mu.Unlock()

	require.NoError(t, client.StartVoiceChat(ctx, VoiceChatOptions{}))
	query := <-api.voiceURL
	assert.Contains(t, query, "session_id=sess-1")
	assert.Contains(t, query, "session_token=tok")

	require.NoError(t, client.MuteInputAudio(ctx))
	select {
	case msg := <-api.voiceMsgs:
		assert.Equal(t, "input_audio.mute", msg["type"])
	case <-time.After(3 * time.Second):
		t.Fatalf("voice mute message not received")
	}

	require.NoError(t, client.StopAvatar(ctx))
	require.NoError(t, client.StopAvatar(ctx))
	assert.Equal(t, 1, api.stopCount())
	assert.ErrorIs(t, client.Speak(ctx, "again", TaskTalk), ErrClosed)
}

func TestHTTPClientStatusError(t *testing.T) {
	api := newFakeAvatarAPI(t)
	client := NewHTTPClient(HTTPConfig{BaseURL: api.server.URL, Logger: zerolog.Nop()}, "wrong")

	_, err := client.CreateStartAvatar(context.Background(), DefaultStartRequest())
	require.Error(t, err)
	var se *reliability.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.False(t, reliability.IsRetryable(err))
}

func TestHTTPClientRequiresStartedSession(t *testing.T) {
	client := NewHTTPClient(HTTPConfig{BaseURL: "http://127.0.0.1:1", Logger: zerolog.Nop()}, "tok")
	ctx := context.Background()
	assert.ErrorIs(t, client.Speak(ctx, "hi", TaskTalk), ErrNotStarted)
	assert.ErrorIs(t, client.StartVoiceChat(ctx, VoiceChatOptions{}), ErrNotStarted)
	assert.ErrorIs(t, client.MuteInputAudio(ctx), ErrVoiceChatInactive)
	assert.NoError(t, client.StopAvatar(ctx))
}

func TestStartRequestValidate(t *testing.T) {
	req := DefaultStartRequest()
	require.NoError(t, req.Validate())

	req.AvatarName = " "
	assert.ErrorIs(t, req.Validate(), ErrInvalidRequest)

	req = DefaultStartRequest()
	req.Quality = "ultra"
	assert.ErrorIs(t, req.Validate(), ErrInvalidRequest)
}

func TestStartRequestMerge(t *testing.T) {
	base := DefaultStartRequest()
	merged := base.Merge(StartRequest{AvatarName: "Anna_public", Language: "es", Voice: VoiceSettings{Rate: 1.2}})
	assert.Equal(t, "Anna_public", merged.AvatarName)
	assert.Equal(t, "es", merged.Language)
	assert.Equal(t, 1.2, merged.Voice.Rate)
	assert.Equal(t, base.Voice.Model, merged.Voice.Model)
	assert.Equal(t, base.KnowledgeID, merged.KnowledgeID)
}

func TestMediaStreamReleaseOnce(t *testing.T) {
	var calls int
	s := NewMediaStream(StreamInfo{SessionID: "x"}, func() { calls++ })
	assert.False(t, s.Released())
	s.Release()
	s.Release()
	assert.True(t, s.Released())
	assert.Equal(t, 1, calls)

	var nilStream *MediaStream
	assert.True(t, nilStream.Released())
	assert.Equal(t, StreamInfo{}, nilStream.Borrow())
}

func TestMockClientSpeakEmitsUtterance(t *testing.T) {
	m := NewMockClient("tok")
	var types []EventType
	var final string
	for _, et := range []EventType{EventAvatarStartTalking, EventAvatarTalkingMessage, EventAvatarEndMessage, EventAvatarStopTalking} {
		m.On(et, func(ev Event) {
			types = append(types, ev.Type)
			if ev.Type == EventAvatarEndMessage {
				final = ev.Message
			}
		})
	}
	ctx := context.Background()
	_, err := m.CreateStartAvatar(ctx, DefaultStartRequest())
	require.NoError(t, err)
	require.NoError(t, m.Speak(ctx, "hi there", TaskRepeat))

	require.NotEmpty(t, types)
	assert.Equal(t, EventAvatarStartTalking, types[0])
	assert.Equal(t, EventAvatarStopTalking, types[len(types)-1])
	assert.Equal(t, "hi there", final)
	assert.Equal(t, []string{"hi there"}, m.Spoken())
}

// writeFailConn lets the websocket handshake through, then fails every
// write made after the handshake response has been read.
type writeFailConn struct {
	net.Conn
	armed atomic.Bool
}

func (c *writeFailConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.armed.Store(true)
	return n, err
}

func (c *writeFailConn) Write(p []byte) (int, error) {
	if c.armed.Load() {
		return 0, errors.New("write refused")
	}
	return c.Conn.Write(p)
}

func TestHTTPClientInitialMuteFailureDropsVoiceSocket(t *testing.T) {
	api := newFakeAvatarAPI(t)
	var breakVoice atomic.Bool
	var nd net.Dialer
	dialer := &websocket.Dialer{
		HandshakeTimeout: 3 * time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := nd.DialContext(ctx, network, addr)
			if err != nil || !breakVoice.Load() {
				return conn, err
			}
			return &writeFailConn{Conn: conn}, nil
		},
	}
	client := NewHTTPClient(HTTPConfig{BaseURL: api.server.URL, Dialer: dialer, Logger: zerolog.Nop()}, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.CreateStartAvatar(ctx, DefaultStartRequest())
	require.NoError(t, err)
	defer client.StopAvatar(context.Background())

	breakVoice.Store(true)
	err = client.StartVoiceChat(ctx, VoiceChatOptions{StartMuted: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply initial mute")

	client.voiceMu.Lock()
	voice := client.voice
	client.voiceMu.Unlock()
	assert.Nil(t, voice)
	assert.ErrorIs(t, client.MuteInputAudio(ctx), ErrVoiceChatInactive)
}
