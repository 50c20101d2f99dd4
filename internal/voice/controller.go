package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ent0n29/parlor/internal/avatar"
)

var (
	ErrNotConnected = errors.New("avatar session not connected")
	ErrNegotiating  = errors.New("voice chat negotiation already in progress")
	ErrSessionEnded = errors.New("session ended during voice chat negotiation")
)

// NegotiationError reports a failed voice channel setup. Loading is cleared
// and the muted flag is left as it was.
type NegotiationError struct {
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("voice chat negotiation failed: %v", e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// ClientSource hands out the client of a connected session.
type ClientSource interface {
	ActiveClient() (avatar.Client, bool)
}

// State is the set of voice flags shown to the user.
type State struct {
	Muted           bool `json:"muted"`
	Loading         bool `json:"loading"`
	UserTalking     bool `json:"user_talking"`
	AvatarTalking   bool `json:"avatar_talking"`
	VoiceChatActive bool `json:"voice_chat_active"`
}

// Listening reports whether the user's speech is currently being picked up.
func (s State) Listening() bool {
	return s.VoiceChatActive && !s.Muted && !s.AvatarTalking
}

type Controller struct {
	src ClientSource
	log zerolog.Logger

	mu       sync.Mutex
	state    State
	epoch    uint64
	onChange func(State)
}

func NewController(src ClientSource, log zerolog.Logger) *Controller {
	return &Controller{src: src, log: log}
}

// SetChangeHook installs a callback invoked after every state change.
func (c *Controller) SetChangeHook(hook func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = hook
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) StartVoiceChat(ctx context.Context, opts avatar.VoiceChatOptions) error {
	client, ok := c.src.ActiveClient()
	if !ok {
		return ErrNotConnected
	}

	c.mu.Lock()
	if c.state.Loading {
		c.mu.Unlock()
		return ErrNegotiating
	}
	c.state.Loading = true
	epoch := c.epoch
	c.mu.Unlock()
	c.notify()

	err := client.StartVoiceChat(ctx, opts)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		if err == nil {
			_ = client.StopVoiceChat(context.Background())
		}
		return ErrSessionEnded
	}
	c.state.Loading = false
	if err == nil {
		c.state.VoiceChatActive = true
		c.state.Muted = opts.StartMuted
	}
	c.mu.Unlock()
	c.notify()

	if err != nil {
		c.log.Error().Err(err).Msg("voice chat negotiation failed")
		return &NegotiationError{Err: err}
	}
	c.log.Info().Bool("muted", opts.StartMuted).Msg("voice chat started")
	return nil
}

func (c *Controller) StopVoiceChat(ctx context.Context) error {
	client, ok := c.src.ActiveClient()
	if !ok {
		return ErrNotConnected
	}
	err := client.StopVoiceChat(ctx)

	c.mu.Lock()
	c.state.VoiceChatActive = false
	c.state.UserTalking = false
	c.mu.Unlock()
	c.notify()

	if err != nil {
		return fmt.Errorf("stop voice chat: %w", err)
	}
	return nil
}

func (c *Controller) Mute(ctx context.Context) error {
	return c.setMuted(ctx, true)
}

func (c *Controller) Unmute(ctx context.Context) error {
	return c.setMuted(ctx, false)
}

// setMuted records the user's intent before forwarding it. A rejected
// command leaves the local flag as requested.
func (c *Controller) setMuted(ctx context.Context, muted bool) error {
	client, ok := c.src.ActiveClient()
	if !ok {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.state.Muted = muted
	c.mu.Unlock()
	c.notify()

	var err error
	if muted {
		err = client.MuteInputAudio(ctx)
	} else {
		err = client.UnmuteInputAudio(ctx)
	}
	if err != nil {
		c.log.Warn().Err(err).Bool("muted", muted).Msg("mute command rejected by transport")
		return fmt.Errorf("forward mute=%t: %w", muted, err)
	}
	return nil
}

// HandleEvent updates talking flags from client events.
func (c *Controller) HandleEvent(ev avatar.Event) {
	c.mu.Lock()
	prev := c.state
	switch ev.Type {
	case avatar.EventUserStart:
		c.state.UserTalking = true
	case avatar.EventUserStop:
		c.state.UserTalking = false
	case avatar.EventAvatarStartTalking:
		c.state.AvatarTalking = true
	case avatar.EventAvatarStopTalking:
		c.state.AvatarTalking = false
	}
	changed := prev != c.state
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// Reset clears all flags at session end. A negotiation still in flight is
// discarded when it completes.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.epoch++
	changed := c.state != State{}
	c.state = State{}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Controller) notify() {
	c.mu.Lock()
	hook := c.onChange
	st := c.state
	c.mu.Unlock()
	if hook != nil {
		hook(st)
	}
}
