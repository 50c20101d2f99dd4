package session

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/parlor/internal/archive"
	"github.com/ent0n29/parlor/internal/avatar"
	"github.com/ent0n29/parlor/internal/token"
	"github.com/ent0n29/parlor/internal/transcript"
	"github.com/ent0n29/parlor/internal/voice"
)

type State string

const (
	StateInactive   State = "inactive"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
)

// StageObserver receives latency samples for the phases of a session start.
type StageObserver interface {
	ObserveStage(stage string, d time.Duration)
}

// Options configures a Store. Tokens and Factory are required.
type Options struct {
	ID            string
	Tokens        token.Source
	Factory       avatar.Factory
	PartialMode   transcript.PartialMode
	Greeting      string
	GreetingDelay time.Duration
	StopTimeout   time.Duration
	Logger        zerolog.Logger
	Stages        StageObserver
	OnEnd         func(archive.Record)
}

type UpdateKind string

const (
	UpdateState      UpdateKind = "state"
	UpdateTranscript UpdateKind = "transcript"
	UpdateVoice      UpdateKind = "voice"
	UpdateEvent      UpdateKind = "event"
	UpdateError      UpdateKind = "error"
)

// Update is delivered to observers after every visible change.
type Update struct {
	Kind      UpdateKind
	SessionID string
	State     State
	Entry     *transcript.Entry
	Voice     *voice.State
	Event     *avatar.Event
	Err       error
}

// Snapshot is a point-in-time copy of a store's visible state.
type Snapshot struct {
	SessionID      string                   `json:"session_id"`
	State          State                    `json:"state"`
	Voice          voice.State              `json:"voice"`
	Listening      bool                     `json:"listening"`
	Stream         *avatar.StreamInfo       `json:"stream,omitempty"`
	Quality        avatar.ConnectionQuality `json:"connection_quality"`
	Request        avatar.StartRequest      `json:"request"`
	TranscriptLen  int                      `json:"transcript_len"`
	StartedAt      time.Time                `json:"started_at,omitempty"`
	LastActivityAt time.Time                `json:"last_activity_at"`
	LastError      string                   `json:"last_error,omitempty"`
}

// CreateRequest is the payload for opening a session over HTTP. Config
// fields override the configured defaults.
type CreateRequest struct {
	Config     *avatar.StartRequest `json:"config,omitempty"`
	VoiceChat  bool                 `json:"voice_chat"`
	StartMuted bool                 `json:"start_muted"`
}

// CreateResponse returns the new session snapshot.
type CreateResponse struct {
	Snapshot
	InactivityTTLMS int64  `json:"inactivity_ttl_ms"`
	VoiceChatError  string `json:"voice_chat_error,omitempty"`
}
