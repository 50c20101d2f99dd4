// Package transcript folds partial and final speech events into an ordered
// conversation log.
package transcript

import (
	"strings"
	"sync"
	"time"
)

type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerAvatar Speaker = "avatar"
)

// Entry is one utterance. Entries keep insertion order; a final entry is
// never revised.
type Entry struct {
	Seq       int       `json:"seq"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

// PartialMode selects how consecutive partials of one utterance combine.
type PartialMode string

const (
	// PartialReplace treats every partial as the full text so far.
	PartialReplace PartialMode = "replace"
	// PartialAppend treats every partial as a delta to concatenate.
	PartialAppend PartialMode = "append"
)

func ParsePartialMode(v string) (PartialMode, bool) {
	switch PartialMode(strings.ToLower(strings.TrimSpace(v))) {
	case "", PartialReplace:
		return PartialReplace, true
	case PartialAppend:
		return PartialAppend, true
	default:
		return "", false
	}
}

type Aggregator struct {
	mu      sync.RWMutex
	mode    PartialMode
	entries []Entry
	open    map[Speaker]int
	nextSeq int
	now     func() time.Time
}

func NewAggregator(mode PartialMode) *Aggregator {
	if mode != PartialAppend {
		mode = PartialReplace
	}
	return &Aggregator{
		mode: mode,
		open: make(map[Speaker]int),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Partial records in-flight text for speaker. It revises the speaker's open
// entry or opens a new one at the end of the log.
func (a *Aggregator) Partial(speaker Speaker, text string) Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	if idx, ok := a.open[speaker]; ok {
		e := &a.entries[idx]
		if a.mode == PartialAppend {
			e.Text = joinDelta(e.Text, text)
		} else {
			e.Text = text
		}
		e.Timestamp = a.now()
		return *e
	}
	return a.appendLocked(speaker, text, false)
}

// Final closes the speaker's open entry. Empty text keeps what the partials
// accumulated. Without an open entry a closed one is appended.
func (a *Aggregator) Final(speaker Speaker, text string) Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	if idx, ok := a.open[speaker]; ok {
		delete(a.open, speaker)
		e := &a.entries[idx]
		if strings.TrimSpace(text) != "" {
			e.Text = text
		}
		e.Final = true
		e.Timestamp = a.now()
		return *e
	}
	return a.appendLocked(speaker, text, true)
}

func (a *Aggregator) appendLocked(speaker Speaker, text string, final bool) Entry {
	a.nextSeq++
	e := Entry{
		Seq:       a.nextSeq,
		Speaker:   speaker,
		Text:      text,
		Final:     final,
		Timestamp: a.now(),
	}
	a.entries = append(a.entries, e)
	if !final {
		a.open[speaker] = len(a.entries) - 1
	}
	return e
}

// Entries returns a copy of the log in insertion order.
func (a *Aggregator) Entries() []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Counts reports finished utterances per speaker.
func (a *Aggregator) Counts() (user, avatar int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, e := range a.entries {
		if !e.Final {
			continue
		}
		switch e.Speaker {
		case SpeakerUser:
			user++
		case SpeakerAvatar:
			avatar++
		}
	}
	return user, avatar
}

func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
	a.open = make(map[Speaker]int)
	a.nextSeq = 0
}

func joinDelta(prev, delta string) string {
	if prev == "" {
		return delta
	}
	if delta == "" {
		return prev
	}
	if strings.HasSuffix(prev, " ") || strings.HasPrefix(delta, " ") {
		return prev + delta
	}
	return prev + " " + delta
}
