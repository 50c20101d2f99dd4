package archive

import (
	"context"
	"time"
)

const (
	OutcomeCompleted = "completed"
	OutcomeCanceled  = "canceled"
	OutcomeFailed    = "failed"
)

// Record summarizes one ended session. Transcript text is never stored.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	AvatarName  string    `json:"avatar_name"`
	Language    string    `json:"language"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	UserTurns   int       `json:"user_turns"`
	AvatarTurns int       `json:"avatar_turns"`
}

// Duration is the wall time between the start attempt and the end.
func (r Record) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Store persists ended-session records. Recent returns newest first.
type Store interface {
	Save(ctx context.Context, record Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
