package app

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/parlor/internal/archive"
	"github.com/ent0n29/parlor/internal/config"
)

func testConfig(mode string) config.Config {
	return config.Config{
		SessionInactivityTimeout: time.Minute,
		StopTimeout:              2 * time.Second,
		MetricsNamespace:         "parlor_app_test",
		AvatarClientMode:         mode,
		AvatarAPIBaseURL:         "https://api.example.com",
		ArchiveTTL:               time.Hour,
	}
}

func TestBuildMockSessionArchivesOnStop(t *testing.T) {
	built, err := Build(context.Background(), testConfig("mock"), zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, "mock", built.Client.Mode)

	store := built.Sessions.Create()
	_, err = store.Start(context.Background(), built.Defaults)
	require.NoError(t, err)
	require.NoError(t, store.SendMessage(context.Background(), "hi"))
	require.NoError(t, store.Stop(context.Background()))

	recs, err := built.Archive.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, store.ID(), recs[0].SessionID)
	assert.Equal(t, archive.OutcomeCompleted, recs[0].Outcome)
	assert.NoError(t, built.Cleanup())
}

func TestBuildRejectsUnknownPartialMode(t *testing.T) {
	cfg := testConfig("mock")
	cfg.TranscriptPartialMode = "sideways"
	_, err := Build(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestResolveAvatarClient(t *testing.T) {
	t.Run("auto without credentials falls back to mock", func(t *testing.T) {
		setup, err := resolveAvatarClient(testConfig("auto"), zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "mock", setup.mode)
		assert.NotNil(t, setup.apiTokens)
	})

	t.Run("http without credentials fails", func(t *testing.T) {
		_, err := resolveAvatarClient(testConfig("http"), zerolog.Nop())
		require.Error(t, err)
	})

	t.Run("api key issues tokens locally", func(t *testing.T) {
		cfg := testConfig("auto")
		cfg.AvatarAPIKey = "k"
		setup, err := resolveAvatarClient(cfg, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "http", setup.mode)
		assert.NotNil(t, setup.apiTokens)
		assert.Same(t, setup.apiTokens, setup.sessionTokens)
	})

	t.Run("token endpoint without key leaves api tokens unset", func(t *testing.T) {
		cfg := testConfig("http")
		cfg.TokenEndpointURL = "http://127.0.0.1:1/token"
		setup, err := resolveAvatarClient(cfg, zerolog.Nop())
		require.NoError(t, err)
		assert.Nil(t, setup.apiTokens)
		assert.Contains(t, setup.detail, "tokens from")
	})

	t.Run("mock token source", func(t *testing.T) {
		src, mode, err := SessionTokens(testConfig("mock"), zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "mock", mode)
		tok, err := src.Token(context.Background())
		require.NoError(t, err)
		assert.Contains(t, tok, "mock-")
	})
}
