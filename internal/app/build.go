package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ent0n29/parlor/internal/archive"
	"github.com/ent0n29/parlor/internal/avatar"
	"github.com/ent0n29/parlor/internal/config"
	"github.com/ent0n29/parlor/internal/httpapi"
	"github.com/ent0n29/parlor/internal/logging"
	"github.com/ent0n29/parlor/internal/observability"
	"github.com/ent0n29/parlor/internal/session"
	"github.com/ent0n29/parlor/internal/transcript"
)

type ClientInfo struct {
	Mode   string
	Detail string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Archive  archive.Store
	Metrics  *observability.Metrics
	Defaults avatar.StartRequest
	Client   ClientInfo

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	defaults, err := config.LoadStartDefaults(cfg.AvatarDefaults)
	if err != nil {
		return nil, err
	}

	partialMode, ok := transcript.ParsePartialMode(cfg.TranscriptPartialMode)
	if !ok {
		return nil, fmt.Errorf("unknown transcript partial mode %q", cfg.TranscriptPartialMode)
	}

	store, err := archive.NewStore(ctx, cfg.DatabaseURL, cfg.RedisURL, cfg.ArchiveTTL)
	if err != nil {
		return nil, fmt.Errorf("archive store init failed: %w", err)
	}

	client, err := resolveAvatarClient(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sessionLog := logging.Component(log, "session")
	sessions := session.NewManager(cfg.SessionInactivityTimeout, session.Options{
		Tokens:        client.sessionTokens,
		Factory:       client.factory,
		PartialMode:   partialMode,
		Greeting:      cfg.Greeting,
		GreetingDelay: cfg.GreetingDelay,
		StopTimeout:   cfg.StopTimeout,
		Logger:        sessionLog,
		Stages:        metrics,
		OnEnd: func(rec archive.Record) {
			metrics.SessionEvents.WithLabelValues("ended_" + rec.Outcome).Inc()
			saveCtx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout)
			defer cancel()
			if err := store.Save(saveCtx, rec); err != nil {
				sessionLog.Warn().Err(err).Str("session_id", rec.SessionID).Msg("archive save failed")
			}
		},
	})
	sessions.SetExpireHook(func(s *session.Store) {
		sessionLog.Info().Str("session_id", s.ID()).Msg("session expired after inactivity")
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions: sessions,
		Defaults: defaults,
		Tokens:   client.apiTokens,
		Archive:  store,
		Metrics:  metrics,
		Logger:   logging.Component(log, "httpapi"),
	})

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Archive:  store,
		Metrics:  metrics,
		Defaults: defaults,
		Client: ClientInfo{
			Mode:   client.mode,
			Detail: client.detail,
		},
		Cleanup: store.Close,
	}, nil
}
