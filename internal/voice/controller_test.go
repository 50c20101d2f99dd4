package voice

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/parlor/internal/avatar"
)

type staticSource struct {
	client avatar.Client
}

func (s *staticSource) ActiveClient() (avatar.Client, bool) {
	if s.client == nil {
		return nil, false
	}
	return s.client, true
}

func connectedMock(t *testing.T) *avatar.MockClient {
	t.Helper()
	m := avatar.NewMockClient("tok")
	_, err := m.CreateStartAvatar(context.Background(), avatar.DefaultStartRequest())
	require.NoError(t, err)
	return m
}

func TestStartVoiceChatRequiresConnection(t *testing.T) {
	c := NewController(&staticSource{}, zerolog.Nop())
	err := c.StartVoiceChat(context.Background(), avatar.VoiceChatOptions{})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, c.State().Loading)
}

func TestStartVoiceChatTogglesLoading(t *testing.T) {
	m := connectedMock(t)
	c := NewController(&staticSource{client: m}, zerolog.Nop())

	var seen []State
	c.SetChangeHook(func(s State) { seen = append(seen, s) })

	require.NoError(t, c.StartVoiceChat(context.Background(), avatar.VoiceChatOptions{StartMuted: true}))
	st := c.State()
	assert.False(t, st.Loading)
	assert.True(t, st.Muted)
	assert.True(t, st.VoiceChatActive)

	require.Len(t, seen, 2)
	assert.True(t, seen[0].Loading)
	assert.False(t, seen[1].Loading)
}

func TestStartVoiceChatFailureClearsLoading(t *testing.T) {
	m := connectedMock(t)
	m.VoiceErr = errors.New("negotiation refused")
	c := NewController(&staticSource{client: m}, zerolog.Nop())

	err := c.StartVoiceChat(context.Background(), avatar.VoiceChatOptions{StartMuted: true})
	var ne *NegotiationError
	require.True(t, errors.As(err, &ne))
	st := c.State()
	assert.False(t, st.Loading)
	assert.False(t, st.VoiceChatActive)
	assert.False(t, st.Muted)
}

func TestMuteThenUnmuteRestoresOriginal(t *testing.T) {
	m := connectedMock(t)
	c := NewController(&staticSource{client: m}, zerolog.Nop())
	require.NoError(t, c.StartVoiceChat(context.Background(), avatar.VoiceChatOptions{}))

	original := c.State().Muted
	require.NoError(t, c.Mute(context.Background()))
	assert.True(t, c.State().Muted)
	assert.True(t, m.Muted())
	require.NoError(t, c.Unmute(context.Background()))
	assert.Equal(t, original, c.State().Muted)
	assert.False(t, m.Muted())
}

func TestMuteRejectedKeepsLocalIntent(t *testing.T) {
	m := connectedMock(t)
	c := NewController(&staticSource{client: m}, zerolog.Nop())
	require.NoError(t, c.StartVoiceChat(context.Background(), avatar.VoiceChatOptions{}))

	m.MuteErr = errors.New("transport rejected")
	err := c.Mute(context.Background())
	require.Error(t, err)
	assert.True(t, c.State().Muted)
}

func TestTalkingFlagsFollowEvents(t *testing.T) {
	m := connectedMock(t)
	c := NewController(&staticSource{client: m}, zerolog.Nop())
	require.NoError(t, c.StartVoiceChat(context.Background(), avatar.VoiceChatOptions{}))

	assert.True(t, c.State().Listening())
	c.HandleEvent(avatar.Event{Type: avatar.EventUserStart})
	assert.True(t, c.State().UserTalking)
	c.HandleEvent(avatar.Event{Type: avatar.EventAvatarStartTalking})
	assert.False(t, c.State().Listening())
	c.HandleEvent(avatar.Event{Type: avatar.EventUserStop})
	c.HandleEvent(avatar.Event{Type: avatar.EventAvatarStopTalking})
	st := c.State()
	assert.False(t, st.UserTalking)
	assert.False(t, st.AvatarTalking)
	assert.True(t, st.Listening())
}

func TestResetDiscardsPendingNegotiation(t *testing.T) {
	m := connectedMock(t)
	gate := &gatedClient{MockClient: m, release: make(chan struct{}), entered: make(chan struct{})}
	c := NewController(&staticSource{client: gate}, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- c.StartVoiceChat(context.Background(), avatar.VoiceChatOptions{}) }()
	<-gate.entered
	c.Reset()
	close(gate.release)

	assert.ErrorIs(t, <-done, ErrSessionEnded)
	assert.Equal(t, State{}, c.State())
}

type gatedClient struct {
	*avatar.MockClient
	entered chan struct{}
	release chan struct{}
}

func (g *gatedClient) StartVoiceChat(ctx context.Context, opts avatar.VoiceChatOptions) error {
	close(g.entered)
	<-g.release
	return g.MockClient.StartVoiceChat(ctx, opts)
}
