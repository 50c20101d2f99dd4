package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/parlor/internal/transcript"
	"github.com/ent0n29/parlor/internal/voice"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl    MessageType = "client_control"
	TypeClientMessage    MessageType = "client_message"
	TypeSessionState     MessageType = "session_state"
	TypeTranscriptUpdate MessageType = "transcript_update"
	TypeVoiceState       MessageType = "voice_state"
	TypeAvatarEvent      MessageType = "avatar_event"
	TypeSystemEvent      MessageType = "system_event"
	TypeErrorEvent       MessageType = "error_event"
)

// Control actions accepted in client_control.
const (
	ActionStop           = "stop"
	ActionMute           = "mute"
	ActionUnmute         = "unmute"
	ActionStartVoiceChat = "start_voice_chat"
	ActionStopVoiceChat  = "stop_voice_chat"
	ActionInterrupt      = "interrupt"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrUnknownAction   = errors.New("unknown control action")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Action     string      `json:"action"`
	StartMuted bool        `json:"start_muted,omitempty"`
}

// ClientMessage carries typed chat text. Mode is "talk" (default) or
// "repeat".
type ClientMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Mode      string      `json:"mode,omitempty"`
}

type SessionState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	StreamURL string      `json:"stream_url,omitempty"`
	Quality   string      `json:"connection_quality,omitempty"`
}

type TranscriptUpdate struct {
	Type      MessageType      `json:"type"`
	SessionID string           `json:"session_id"`
	Entry     transcript.Entry `json:"entry"`
}

type VoiceState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Voice     voice.State `json:"voice"`
	Listening bool        `json:"listening"`
}

type AvatarEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Event     string      `json:"event"`
	TaskID    string      `json:"task_id,omitempty"`
	Message   string      `json:"message,omitempty"`
	TSMs      int64       `json:"ts_ms"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionStop, ActionMute, ActionUnmute, ActionStartVoiceChat, ActionStopVoiceChat, ActionInterrupt:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
		}
		return msg, nil
	case TypeClientMessage:
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Text = strings.TrimSpace(msg.Text)
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_message")
		}
		switch msg.Mode {
		case "":
			msg.Mode = "talk"
		case "talk", "repeat":
		default:
			return nil, fmt.Errorf("invalid client_message mode %q", msg.Mode)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
