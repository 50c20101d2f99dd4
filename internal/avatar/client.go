// Package avatar talks to the streaming-avatar cloud service.
package avatar

import (
	"context"
	"errors"
)

var (
	ErrClosed            = errors.New("avatar client closed")
	ErrNotStarted        = errors.New("avatar session not started")
	ErrVoiceChatInactive = errors.New("voice chat not active")
)

// Client is one live connection to the avatar service. Implementations emit
// events through On subscriptions from a single goroutine, in arrival order.
type Client interface {
	On(t EventType, h Handler) func()
	CreateStartAvatar(ctx context.Context, req StartRequest) (*MediaStream, error)
	StartVoiceChat(ctx context.Context, opts VoiceChatOptions) error
	StopVoiceChat(ctx context.Context) error
	MuteInputAudio(ctx context.Context) error
	UnmuteInputAudio(ctx context.Context) error
	Speak(ctx context.Context, text string, task TaskType) error
	Interrupt(ctx context.Context) error
	StopAvatar(ctx context.Context) error
}

// Factory builds a client bound to a short-lived access token.
type Factory func(token string) Client
