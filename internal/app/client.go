package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ent0n29/parlor/internal/avatar"
	"github.com/ent0n29/parlor/internal/config"
	"github.com/ent0n29/parlor/internal/logging"
	"github.com/ent0n29/parlor/internal/token"
)

type clientSetup struct {
	factory avatar.Factory
	// sessionTokens opens sessions; apiTokens backs /api/get-access-token
	// and is nil when no API key is configured.
	sessionTokens token.Source
	apiTokens     token.Source
	mode          string
	detail        string
}

func resolveAvatarClient(cfg config.Config, log zerolog.Logger) (clientSetup, error) {
	useMock := func() clientSetup {
		mockTokens := token.SourceFunc(func(context.Context) (string, error) {
			return "mock-" + uuid.NewString(), nil
		})
		return clientSetup{
			factory:       avatar.NewMockFactory(),
			sessionTokens: mockTokens,
			apiTokens:     mockTokens,
			mode:          "mock",
			detail:        "in-process mock avatar",
		}
	}

	tryHTTP := func() (clientSetup, bool) {
		issuer := token.NewIssuer(cfg.AvatarAPIKey, cfg.AvatarAPIBaseURL, nil)
		setup := clientSetup{
			factory: avatar.NewHTTPFactory(avatar.HTTPConfig{
				BaseURL: cfg.AvatarAPIBaseURL,
				Logger:  logging.Component(log, "avatar"),
			}),
			mode: "http",
		}
		if issuer.Configured() {
			setup.apiTokens = issuer
		}
		switch {
		case cfg.TokenEndpointURL != "":
			setup.sessionTokens = token.NewFetcher(cfg.TokenEndpointURL, nil)
			setup.detail = fmt.Sprintf("%s (tokens from %s)", cfg.AvatarAPIBaseURL, cfg.TokenEndpointURL)
		case issuer.Configured():
			setup.sessionTokens = issuer
			setup.detail = fmt.Sprintf("%s (tokens issued locally)", cfg.AvatarAPIBaseURL)
		default:
			return clientSetup{}, false
		}
		return setup, true
	}

	switch cfg.AvatarClientMode {
	case "mock":
		return useMock(), nil
	case "http":
		setup, ok := tryHTTP()
		if !ok {
			return clientSetup{}, fmt.Errorf("AVATAR_CLIENT_MODE=http requires AVATAR_API_KEY or TOKEN_ENDPOINT_URL")
		}
		return setup, nil
	default:
		if setup, ok := tryHTTP(); ok {
			return setup, nil
		}
		log.Warn().Msg("no avatar credentials configured; falling back to mock client")
		return useMock(), nil
	}
}

// SessionTokens returns the token source sessions would use under cfg.
func SessionTokens(cfg config.Config, log zerolog.Logger) (token.Source, string, error) {
	setup, err := resolveAvatarClient(cfg, log)
	if err != nil {
		return nil, "", err
	}
	return setup.sessionTokens, setup.mode, nil
}
