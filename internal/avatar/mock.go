package avatar

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MockClient is an in-process stand-in for the avatar service, used when no
// API key is configured and by tests. Speak echoes the text back as a full
// avatar utterance.
type MockClient struct {
	*Emitter

	// StartGate, when set, blocks CreateStartAvatar until it is closed.
	StartGate chan struct{}
	StartErr  error
	VoiceErr  error
	MuteErr   error
	SpeakErr  error

	mu          sync.Mutex
	token       string
	started     bool
	stopped     bool
	voiceActive bool
	muted       bool
	spoken      []string
	stream      *MediaStream
}

func NewMockClient(token string) *MockClient {
	return &MockClient{Emitter: NewEmitter(), token: token}
}

// NewMockFactory returns a Factory producing fresh mock clients.
func NewMockFactory() Factory {
	return func(token string) Client {
		return NewMockClient(token)
	}
}

func (m *MockClient) CreateStartAvatar(ctx context.Context, req StartRequest) (*MediaStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if m.StartGate != nil {
		select {
		case <-m.StartGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.StartErr != nil {
		return nil, m.StartErr
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	id := uuid.NewString()
	m.started = true
	m.stream = NewMediaStream(StreamInfo{
		SessionID:   id,
		URL:         "wss://mock.invalid/" + id,
		AccessToken: m.token,
	}, nil)
	stream := m.stream
	m.mu.Unlock()

	m.Emit(Event{Type: EventStreamReady, Message: id})
	return stream, nil
}

func (m *MockClient) StartVoiceChat(_ context.Context, opts VoiceChatOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrClosed
	}
	if !m.started {
		return ErrNotStarted
	}
	if m.VoiceErr != nil {
		return m.VoiceErr
	}
	m.voiceActive = true
	m.muted = opts.StartMuted
	return nil
}

func (m *MockClient) StopVoiceChat(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voiceActive = false
	return nil
}

func (m *MockClient) MuteInputAudio(_ context.Context) error {
	return m.setMuted(true)
}

func (m *MockClient) UnmuteInputAudio(_ context.Context) error {
	return m.setMuted(false)
}

func (m *MockClient) setMuted(v bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MuteErr != nil {
		return m.MuteErr
	}
	if !m.voiceActive {
		return ErrVoiceChatInactive
	}
	m.muted = v
	return nil
}

func (m *MockClient) Speak(_ context.Context, text string, task TaskType) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrClosed
	}
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if m.SpeakErr != nil {
		m.mu.Unlock()
		return m.SpeakErr
	}
	m.spoken = append(m.spoken, text)
	m.mu.Unlock()

	taskID := uuid.NewString()
	reply := text
	if task != TaskRepeat {
		reply = "You said: " + text
	}
	m.Emit(Event{Type: EventAvatarStartTalking, TaskID: taskID})
	var partial strings.Builder
	for i, word := range strings.Fields(reply) {
		if i > 0 {
			partial.WriteByte(' ')
		}
		partial.WriteString(word)
		m.Emit(Event{Type: EventAvatarTalkingMessage, TaskID: taskID, Message: partial.String()})
	}
	m.Emit(Event{Type: EventAvatarEndMessage, TaskID: taskID, Message: reply})
	m.Emit(Event{Type: EventAvatarStopTalking, TaskID: taskID})
	return nil
}

func (m *MockClient) Interrupt(_ context.Context) error {
	m.Emit(Event{Type: EventAvatarStopTalking})
	return nil
}

func (m *MockClient) StopAvatar(_ context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.voiceActive = false
	m.mu.Unlock()
	m.Clear()
	return nil
}

func (m *MockClient) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func (m *MockClient) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *MockClient) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.spoken))
	copy(out, m.spoken)
	return out
}

func (m *MockClient) Token() string {
	return m.token
}
