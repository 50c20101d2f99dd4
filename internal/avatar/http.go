package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/parlor/internal/reliability"
)

// HTTPConfig configures the REST + websocket client.
type HTTPConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     zerolog.Logger
}

// HTTPClient drives one avatar session over the service's REST API. Events
// arrive over the session's realtime websocket; voice chat uses a second
// websocket.
type HTTPClient struct {
	*Emitter

	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
	log     zerolog.Logger

	mu        sync.Mutex
	sessionID string
	language  string
	stt       STTProvider
	events    *websocket.Conn
	voice     *websocket.Conn
	voiceMu   sync.Mutex
	closed    bool
}

// NewHTTPFactory returns a Factory producing HTTP clients for cfg.
func NewHTTPFactory(cfg HTTPConfig) Factory {
	return func(token string) Client {
		return NewHTTPClient(cfg, token)
	}
}

func NewHTTPClient(cfg HTTPConfig, token string) *HTTPClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &HTTPClient{
		Emitter: NewEmitter(),
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:   token,
		http:    httpClient,
		dialer:  dialer,
		log:     cfg.Logger,
	}
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type newSessionRequest struct {
	Quality             Quality            `json:"quality,omitempty"`
	AvatarName          string             `json:"avatar_name"`
	KnowledgeBaseID     string             `json:"knowledge_base_id,omitempty"`
	KnowledgeBase       string             `json:"knowledge_base,omitempty"`
	Voice               *newSessionVoice   `json:"voice,omitempty"`
	Language            string             `json:"language,omitempty"`
	Version             string             `json:"version"`
	VideoEncoding       string             `json:"video_encoding"`
	Source              string             `json:"source"`
	DisableIdleTimeout  bool               `json:"disable_idle_timeout,omitempty"`
	ActivityIdleTimeout int                `json:"activity_idle_timeout,omitempty"`
	STTSettings         *STTSettings       `json:"stt_settings,omitempty"`
	VoiceChatTransport  VoiceChatTransport `json:"voice_chat_transport,omitempty"`
}

type newSessionVoice struct {
	VoiceID string       `json:"voice_id,omitempty"`
	Rate    float64      `json:"rate,omitempty"`
	Emotion VoiceEmotion `json:"emotion,omitempty"`
	Model   string       `json:"model,omitempty"`
}

type newSessionData struct {
	SessionID        string `json:"session_id"`
	URL              string `json:"url"`
	AccessToken      string `json:"access_token"`
	RealtimeEndpoint string `json:"realtime_endpoint"`
}

type sessionRef struct {
	SessionID string `json:"session_id"`
}

type taskRequest struct {
	SessionID string   `json:"session_id"`
	Text      string   `json:"text"`
	TaskType  TaskType `json:"task_type"`
	TaskMode  string   `json:"task_mode"`
}

func (c *HTTPClient) CreateStartAvatar(ctx context.Context, req StartRequest) (*MediaStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Unlock()

	body := newSessionRequest{
		Quality:             req.Quality,
		AvatarName:          req.AvatarName,
		KnowledgeBaseID:     req.KnowledgeID,
		KnowledgeBase:       req.KnowledgeBase,
		Language:            req.Language,
		Version:             "v2",
		VideoEncoding:       "H264",
		Source:              "sdk",
		DisableIdleTimeout:  req.DisableIdleTimeout,
		ActivityIdleTimeout: req.ActivityIdleTimeout,
		VoiceChatTransport:  req.VoiceChatTransport,
	}
	if req.Voice != (VoiceSettings{}) {
		body.Voice = &newSessionVoice{
			VoiceID: req.Voice.VoiceID,
			Rate:    req.Voice.Rate,
			Emotion: req.Voice.Emotion,
			Model:   req.Voice.Model,
		}
	}
	if req.STTSettings.Provider != "" {
		stt := req.STTSettings
		body.STTSettings = &stt
	}

	var data newSessionData
	if err := c.call(ctx, "/v1/streaming.new", body, &data); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if data.SessionID == "" {
		return nil, errors.New("create session: empty session_id in response")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.stopRemote(data.SessionID)
		return nil, ErrClosed
	}
	c.sessionID = data.SessionID
	c.language = req.Language
	c.stt = req.STTSettings.Provider
	c.mu.Unlock()

	if err := c.call(ctx, "/v1/streaming.start", sessionRef{SessionID: data.SessionID}, nil); err != nil {
		c.stopRemote(data.SessionID)
		return nil, fmt.Errorf("start session: %w", err)
	}

	if strings.TrimSpace(data.RealtimeEndpoint) != "" {
		conn, _, err := c.dialer.DialContext(ctx, data.RealtimeEndpoint, nil)
		if err != nil {
			c.stopRemote(data.SessionID)
			return nil, fmt.Errorf("dial realtime endpoint: %w", err)
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return nil, ErrClosed
		}
		c.events = conn
		c.mu.Unlock()
		go c.readLoop(conn)
	}

	info := StreamInfo{
		SessionID:        data.SessionID,
		URL:              data.URL,
		AccessToken:      data.AccessToken,
		RealtimeEndpoint: data.RealtimeEndpoint,
	}
	c.Emit(Event{Type: EventStreamReady, Message: data.SessionID})
	return NewMediaStream(info, nil), nil
}

type realtimeMessage struct {
	Type    EventType         `json:"type"`
	TaskID  string            `json:"task_id"`
	Message string            `json:"message"`
	Quality ConnectionQuality `json:"quality"`
}

func (c *HTTPClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.log.Warn().Err(err).Msg("realtime stream read failed")
				c.Emit(Event{Type: EventStreamDisconnected, Message: err.Error()})
			}
			return
		}
		var msg realtimeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug().Err(err).Msg("ignoring malformed realtime message")
			continue
		}
		if msg.Type == "" {
			continue
		}
		c.Emit(Event{Type: msg.Type, TaskID: msg.TaskID, Message: msg.Message, Quality: msg.Quality})
	}
}

func (c *HTTPClient) StartVoiceChat(ctx context.Context, opts VoiceChatOptions) error {
	c.mu.Lock()
	sessionID, language, stt, closed := c.sessionID, c.language, c.stt, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if sessionID == "" {
		return ErrNotStarted
	}

	u, err := url.Parse(c.wsBase() + "/v1/ws/streaming.chat")
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	q.Set("session_token", c.token)
	q.Set("silence_response", "false")
	if language != "" {
		q.Set("stt_language", language)
	}
	if stt != "" {
		q.Set("stt_provider", string(stt))
	}
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial voice chat: %w", err)
	}

	if opts.StartMuted {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(map[string]any{"type": "input_audio.mute"}); err != nil {
			_ = conn.Close()
			return fmt.Errorf("apply initial mute: %w", err)
		}
	}

	c.voiceMu.Lock()
	if c.voice != nil {
		_ = c.voice.Close()
	}
	c.voice = conn
	c.voiceMu.Unlock()
	return nil
}

func (c *HTTPClient) StopVoiceChat(_ context.Context) error {
	c.voiceMu.Lock()
	defer c.voiceMu.Unlock()
	if c.voice == nil {
		return nil
	}
	err := c.voice.Close()
	c.voice = nil
	return err
}

func (c *HTTPClient) MuteInputAudio(_ context.Context) error {
	return c.writeVoice(map[string]any{"type": "input_audio.mute"})
}

func (c *HTTPClient) UnmuteInputAudio(_ context.Context) error {
	return c.writeVoice(map[string]any{"type": "input_audio.unmute"})
}

func (c *HTTPClient) writeVoice(v any) error {
	c.voiceMu.Lock()
	defer c.voiceMu.Unlock()
	if c.voice == nil {
		return ErrVoiceChatInactive
	}
	_ = c.voice.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.voice.WriteJSON(v)
}

func (c *HTTPClient) Speak(ctx context.Context, text string, task TaskType) error {
	sessionID, err := c.activeSession()
	if err != nil {
		return err
	}
	if task == "" {
		task = TaskTalk
	}
	return c.call(ctx, "/v1/streaming.task", taskRequest{
		SessionID: sessionID,
		Text:      text,
		TaskType:  task,
		TaskMode:  "async",
	}, nil)
}

func (c *HTTPClient) Interrupt(ctx context.Context) error {
	sessionID, err := c.activeSession()
	if err != nil {
		return err
	}
	return c.call(ctx, "/v1/streaming.interrupt", sessionRef{SessionID: sessionID}, nil)
}

// StopAvatar closes both sockets and ends the remote session. Later calls
// are no-ops.
func (c *HTTPClient) StopAvatar(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessionID := c.sessionID
	events := c.events
	c.events = nil
	c.mu.Unlock()

	_ = c.StopVoiceChat(ctx)
	if events != nil {
		_ = events.Close()
	}
	c.Clear()
	if sessionID == "" {
		return nil
	}
	if err := c.call(ctx, "/v1/streaming.stop", sessionRef{SessionID: sessionID}, nil); err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	return nil
}

func (c *HTTPClient) activeSession() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}
	if c.sessionID == "" {
		return "", ErrNotStarted
	}
	return c.sessionID, nil
}

func (c *HTTPClient) stopRemote(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.call(ctx, "/v1/streaming.stop", sessionRef{SessionID: sessionID}, nil); err != nil {
		c.log.Warn().Err(err).Str("avatar_session_id", sessionID).Msg("best-effort stop failed")
	}
}

func (c *HTTPClient) wsBase() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://")
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://")
	default:
		return c.baseURL
	}
}

func (c *HTTPClient) call(ctx context.Context, path string, in any, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		if len(body) > 4<<10 {
			body = body[:4<<10]
		}
		return &reliability.StatusError{Service: "avatar", Code: res.StatusCode, Body: string(body)}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 && env.Code != 100 {
		return fmt.Errorf("avatar api code %d: %s", env.Code, env.Message)
	}
	if len(env.Data) == 0 {
		return errors.New("avatar api response missing data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
