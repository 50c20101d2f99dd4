package session

import (
	"errors"
	"fmt"

	"github.com/ent0n29/parlor/internal/voice"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrSessionActive = errors.New("session already active")
	ErrStartCanceled = errors.New("session start canceled by stop")
	ErrEmptyMessage  = errors.New("message text is empty")
	ErrNotConnected  = voice.ErrNotConnected
)

// StartError reports a failed session start. The store is back in the
// inactive state when it is returned.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("session start failed: %v", e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }
