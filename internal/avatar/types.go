package avatar

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

type VoiceEmotion string

const (
	EmotionExcited     VoiceEmotion = "excited"
	EmotionSerious     VoiceEmotion = "serious"
	EmotionFriendly    VoiceEmotion = "friendly"
	EmotionSoothing    VoiceEmotion = "soothing"
	EmotionBroadcaster VoiceEmotion = "broadcaster"
)

type VoiceChatTransport string

const (
	TransportWebsocket VoiceChatTransport = "websocket"
	TransportLiveKit   VoiceChatTransport = "livekit"
)

type STTProvider string

const (
	STTDeepgram STTProvider = "deepgram"
	STTGladia   STTProvider = "gladia"
)

// VoiceSettings selects and tunes the avatar's synthetic voice.
type VoiceSettings struct {
	VoiceID string       `json:"voice_id,omitempty" mapstructure:"voice_id"`
	Rate    float64      `json:"rate,omitempty" mapstructure:"rate"`
	Emotion VoiceEmotion `json:"emotion,omitempty" mapstructure:"emotion"`
	Model   string       `json:"model,omitempty" mapstructure:"model"`
}

type STTSettings struct {
	Provider   STTProvider `json:"provider,omitempty" mapstructure:"provider"`
	Confidence float64     `json:"confidence,omitempty" mapstructure:"confidence"`
}

// StartRequest is the immutable snapshot of user-editable parameters passed
// to the avatar service when a session starts.
type StartRequest struct {
	Quality             Quality            `json:"quality,omitempty" mapstructure:"quality"`
	AvatarName          string             `json:"avatar_name" mapstructure:"avatar_name"`
	KnowledgeID         string             `json:"knowledge_id,omitempty" mapstructure:"knowledge_id"`
	KnowledgeBase       string             `json:"knowledge_base,omitempty" mapstructure:"knowledge_base"`
	Voice               VoiceSettings      `json:"voice" mapstructure:"voice"`
	Language            string             `json:"language,omitempty" mapstructure:"language"`
	VoiceChatTransport  VoiceChatTransport `json:"voice_chat_transport,omitempty" mapstructure:"voice_chat_transport"`
	STTSettings         STTSettings        `json:"stt_settings" mapstructure:"stt_settings"`
	DisableIdleTimeout  bool               `json:"disable_idle_timeout,omitempty" mapstructure:"disable_idle_timeout"`
	ActivityIdleTimeout int                `json:"activity_idle_timeout,omitempty" mapstructure:"activity_idle_timeout"`
}

var ErrInvalidRequest = errors.New("invalid start request")

// DefaultStartRequest mirrors the settings panel defaults.
func DefaultStartRequest() StartRequest {
	return StartRequest{
		Quality:     QualityHigh,
		AvatarName:  "Dexter_Lawyer_Sitting_public",
		KnowledgeID: "13921c4f7f3b4118a55ebbdbb205f5d4",
		Voice: VoiceSettings{
			Rate:    1.0,
			Emotion: EmotionFriendly,
			Model:   "eleven_flash_v2_5",
		},
		Language:           "en",
		VoiceChatTransport: TransportWebsocket,
		STTSettings:        STTSettings{Provider: STTDeepgram},
	}
}

// Validate checks required fields and enumerations.
func (r StartRequest) Validate() error {
	if strings.TrimSpace(r.AvatarName) == "" {
		return fmt.Errorf("%w: avatar_name is required", ErrInvalidRequest)
	}
	switch r.Quality {
	case "", QualityLow, QualityMedium, QualityHigh:
	default:
		return fmt.Errorf("%w: unknown quality %q", ErrInvalidRequest, r.Quality)
	}
	switch r.VoiceChatTransport {
	case "", TransportWebsocket, TransportLiveKit:
	default:
		return fmt.Errorf("%w: unknown voice_chat_transport %q", ErrInvalidRequest, r.VoiceChatTransport)
	}
	if r.Voice.Rate < 0 || r.Voice.Rate > 1.5 {
		return fmt.Errorf("%w: voice rate must be within [0, 1.5]", ErrInvalidRequest)
	}
	if r.ActivityIdleTimeout < 0 {
		return fmt.Errorf("%w: activity_idle_timeout must be >= 0", ErrInvalidRequest)
	}
	return nil
}

// Merge overlays the non-zero fields of override onto r.
func (r StartRequest) Merge(override StartRequest) StartRequest {
	out := r
	if override.Quality != "" {
		out.Quality = override.Quality
	}
	if strings.TrimSpace(override.AvatarName) != "" {
		out.AvatarName = override.AvatarName
	}
	if override.KnowledgeID != "" {
		out.KnowledgeID = override.KnowledgeID
	}
	if override.KnowledgeBase != "" {
		out.KnowledgeBase = override.KnowledgeBase
	}
	if override.Voice.VoiceID != "" {
		out.Voice.VoiceID = override.Voice.VoiceID
	}
	if override.Voice.Rate != 0 {
		out.Voice.Rate = override.Voice.Rate
	}
	if override.Voice.Emotion != "" {
		out.Voice.Emotion = override.Voice.Emotion
	}
	if override.Voice.Model != "" {
		out.Voice.Model = override.Voice.Model
	}
	if override.Language != "" {
		out.Language = override.Language
	}
	if override.VoiceChatTransport != "" {
		out.VoiceChatTransport = override.VoiceChatTransport
	}
	if override.STTSettings.Provider != "" {
		out.STTSettings.Provider = override.STTSettings.Provider
	}
	if override.STTSettings.Confidence != 0 {
		out.STTSettings.Confidence = override.STTSettings.Confidence
	}
	if override.DisableIdleTimeout {
		out.DisableIdleTimeout = true
	}
	if override.ActivityIdleTimeout != 0 {
		out.ActivityIdleTimeout = override.ActivityIdleTimeout
	}
	return out
}

// StreamInfo is the read-only view of a media stream handed to renderers.
type StreamInfo struct {
	SessionID        string `json:"session_id"`
	URL              string `json:"url"`
	AccessToken      string `json:"access_token"`
	RealtimeEndpoint string `json:"realtime_endpoint,omitempty"`
}

// MediaStream is the live media handle returned by a successful start. The
// session store owns it; renderers only see Borrow().
type MediaStream struct {
	info StreamInfo

	once      sync.Once
	released  chan struct{}
	onRelease func()
}

func NewMediaStream(info StreamInfo, onRelease func()) *MediaStream {
	return &MediaStream{
		info:      info,
		released:  make(chan struct{}),
		onRelease: onRelease,
	}
}

func (m *MediaStream) Borrow() StreamInfo {
	if m == nil {
		return StreamInfo{}
	}
	return m.info
}

// Release frees the stream. Safe to call more than once.
func (m *MediaStream) Release() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		close(m.released)
		if m.onRelease != nil {
			m.onRelease()
		}
	})
}

func (m *MediaStream) Released() bool {
	if m == nil {
		return true
	}
	select {
	case <-m.released:
		return true
	default:
		return false
	}
}

// ConnectionQuality is reported by the service while a session runs.
type ConnectionQuality string

const (
	QualityUnknown ConnectionQuality = "UNKNOWN"
	QualityGood    ConnectionQuality = "GOOD"
	QualityBad     ConnectionQuality = "BAD"
)

type TaskType string

const (
	TaskTalk   TaskType = "talk"
	TaskRepeat TaskType = "repeat"
)

// VoiceChatOptions configures voice channel negotiation.
type VoiceChatOptions struct {
	StartMuted bool `json:"start_muted"`
}
