package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ent0n29/parlor/internal/archive"
	"github.com/ent0n29/parlor/internal/avatar"
	"github.com/ent0n29/parlor/internal/policy"
	"github.com/ent0n29/parlor/internal/token"
	"github.com/ent0n29/parlor/internal/transcript"
	"github.com/ent0n29/parlor/internal/voice"
)

var subscribedEvents = []avatar.EventType{
	avatar.EventAvatarStartTalking,
	avatar.EventAvatarStopTalking,
	avatar.EventAvatarTalkingMessage,
	avatar.EventAvatarEndMessage,
	avatar.EventUserStart,
	avatar.EventUserStop,
	avatar.EventUserSilence,
	avatar.EventUserTalkingMessage,
	avatar.EventUserEndMessage,
	avatar.EventStreamReady,
	avatar.EventStreamDisconnected,
	avatar.EventConnectionQuality,
}

type observer struct {
	id uint64
	fn func(Update)
}

// Store owns one avatar session: its lifecycle state, the client handle,
// the media stream, the transcript and the voice flags. Consumers share a
// *Store; Close must be called when the owner goes away.
type Store struct {
	id         string
	tokens     token.Source
	factory    avatar.Factory
	log        zerolog.Logger
	stages     StageObserver
	onEnd      func(archive.Record)
	greeting   string
	greetDelay time.Duration
	stopTO     time.Duration

	transcript *transcript.Aggregator
	voice      *voice.Controller

	// evMu orders event application against the reset in Stop.
	evMu sync.Mutex

	mu           sync.Mutex
	state        State
	gen          uint64
	client       avatar.Client
	stream       *avatar.MediaStream
	unsubs       []func()
	req          avatar.StartRequest
	quality      avatar.ConnectionQuality
	attemptAt    time.Time
	startedAt    time.Time
	lastActivity time.Time
	lastErr      string
	greetTimer   *time.Timer
	viewers      int
	observers    []observer
	nextObserver uint64
}

func NewStore(opts Options) *Store {
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	stopTO := opts.StopTimeout
	if stopTO <= 0 {
		stopTO = 10 * time.Second
	}
	log := opts.Logger.With().Str("session_id", id).Logger()
	s := &Store{
		id:           id,
		tokens:       opts.Tokens,
		factory:      opts.Factory,
		log:          log,
		stages:       opts.Stages,
		onEnd:        opts.OnEnd,
		greeting:     strings.TrimSpace(opts.Greeting),
		greetDelay:   opts.GreetingDelay,
		stopTO:       stopTO,
		transcript:   transcript.NewAggregator(opts.PartialMode),
		state:        StateInactive,
		quality:      avatar.QualityUnknown,
		lastActivity: time.Now().UTC(),
	}
	s.voice = voice.NewController(s, log)
	s.voice.SetChangeHook(func(st voice.State) {
		s.publish(Update{Kind: UpdateVoice, Voice: &st})
	})
	return s
}

func (s *Store) ID() string { return s.id }

func (s *Store) Voice() *voice.Controller { return s.voice }

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveClient returns the client while the session is connected.
func (s *Store) ActiveClient() (avatar.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.client == nil {
		return nil, false
	}
	return s.client, true
}

// Start opens a session with req. It is only valid from the inactive state.
// A Stop issued while Start is pending wins: Start then releases whatever it
// obtained and returns ErrStartCanceled.
func (s *Store) Start(ctx context.Context, req avatar.StartRequest) (avatar.StreamInfo, error) {
	if err := req.Validate(); err != nil {
		return avatar.StreamInfo{}, &StartError{Err: err}
	}
	if s.tokens == nil || s.factory == nil {
		return avatar.StreamInfo{}, &StartError{Err: errors.New("store has no token source or client factory")}
	}

	s.mu.Lock()
	if s.state != StateInactive {
		s.mu.Unlock()
		return avatar.StreamInfo{}, ErrSessionActive
	}
	s.state = StateConnecting
	s.gen++
	gen := s.gen
	s.req = req
	s.lastErr = ""
	s.quality = avatar.QualityUnknown
	s.attemptAt = time.Now().UTC()
	s.lastActivity = s.attemptAt
	s.mu.Unlock()
	s.publish(Update{Kind: UpdateState, State: StateConnecting})
	s.log.Info().Str("avatar", req.AvatarName).Msg("session starting")

	began := time.Now()
	tok, err := s.tokens.Token(ctx)
	s.observe("token_fetch", time.Since(began))
	if err != nil {
		return avatar.StreamInfo{}, s.failStart(gen, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return avatar.StreamInfo{}, ErrStartCanceled
	}
	client := s.factory(tok)
	s.client = client
	s.unsubs = s.subscribe(client)
	s.mu.Unlock()

	startedCall := time.Now()
	stream, err := client.CreateStartAvatar(ctx, req)
	s.observe("avatar_start", time.Since(startedCall))

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		stream.Release()
		s.log.Info().Msg("start completed after stop; released")
		return avatar.StreamInfo{}, ErrStartCanceled
	}
	if err != nil {
		unsubs := s.unsubs
		s.client = nil
		s.unsubs = nil
		s.mu.Unlock()
		for _, off := range unsubs {
			off()
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), s.stopTO)
		if stopErr := client.StopAvatar(stopCtx); stopErr != nil {
			s.log.Warn().Err(stopErr).Msg("teardown after failed start")
		}
		cancel()
		stream.Release()
		return avatar.StreamInfo{}, s.failStart(gen, err)
	}
	s.stream = stream
	s.state = StateConnected
	s.startedAt = time.Now().UTC()
	s.lastActivity = s.startedAt
	s.scheduleGreetingLocked(gen)
	info := stream.Borrow()
	s.mu.Unlock()

	s.observe("start_total", time.Since(began))
	s.publish(Update{Kind: UpdateState, State: StateConnected})
	s.log.Info().Str("avatar_session_id", info.SessionID).Msg("session connected")
	return info, nil
}

func (s *Store) failStart(gen uint64, cause error) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrStartCanceled
	}
	s.state = StateInactive
	s.lastErr = cause.Error()
	rec := s.recordLocked(archive.OutcomeFailed, cause)
	s.mu.Unlock()

	err := &StartError{Err: cause}
	var fe *token.FetchError
	if errors.As(cause, &fe) {
		s.log.Error().Err(cause).Msg("credential fetch failed")
	} else {
		s.log.Error().Err(cause).Msg("session start failed")
	}
	s.publish(Update{Kind: UpdateError, State: StateInactive, Err: err})
	s.publish(Update{Kind: UpdateState, State: StateInactive})
	s.emitEnd(rec)
	return err
}

// Stop tears the session down and returns to inactive. Calling it on an
// inactive store does nothing.
func (s *Store) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateInactive {
		s.mu.Unlock()
		return nil
	}
	outcome := archive.OutcomeCompleted
	if s.state == StateConnecting {
		outcome = archive.OutcomeCanceled
	}
	s.gen++
	client := s.client
	stream := s.stream
	unsubs := s.unsubs
	s.client = nil
	s.stream = nil
	s.unsubs = nil
	s.state = StateInactive
	if s.greetTimer != nil {
		s.greetTimer.Stop()
		s.greetTimer = nil
	}
	rec := s.recordLocked(outcome, nil)
	s.mu.Unlock()

	for _, off := range unsubs {
		off()
	}
	var stopErr error
	if client != nil {
		stopErr = client.StopAvatar(ctx)
	}
	stream.Release()
	s.evMu.Lock()
	s.transcript.Reset()
	s.voice.Reset()
	s.evMu.Unlock()

	s.publish(Update{Kind: UpdateState, State: StateInactive})
	s.log.Info().Str("outcome", outcome).Msg("session stopped")
	s.emitEnd(rec)

	if stopErr != nil {
		s.log.Warn().Err(stopErr).Msg("avatar stop reported an error")
		return fmt.Errorf("stop avatar: %w", stopErr)
	}
	return nil
}

// Close stops the session and drops every observer.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTO)
	defer cancel()
	err := s.Stop(ctx)
	s.mu.Lock()
	s.observers = nil
	s.mu.Unlock()
	return err
}

func (s *Store) StartVoiceChat(ctx context.Context, opts avatar.VoiceChatOptions) error {
	began := time.Now()
	err := s.voice.StartVoiceChat(ctx, opts)
	if err == nil {
		s.observe("voice_chat_negotiation", time.Since(began))
		s.touch()
	}
	return err
}

// SendMessage asks the avatar to respond to text.
func (s *Store) SendMessage(ctx context.Context, text string) error {
	return s.speak(ctx, text, avatar.TaskTalk)
}

// Repeat makes the avatar speak text verbatim.
func (s *Store) Repeat(ctx context.Context, text string) error {
	return s.speak(ctx, text, avatar.TaskRepeat)
}

func (s *Store) speak(ctx context.Context, text string, task avatar.TaskType) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	client, ok := s.ActiveClient()
	if !ok {
		return ErrNotConnected
	}
	s.touch()
	if err := client.Speak(ctx, text, task); err != nil {
		return fmt.Errorf("send %s task: %w", task, err)
	}
	return nil
}

func (s *Store) Interrupt(ctx context.Context) error {
	client, ok := s.ActiveClient()
	if !ok {
		return ErrNotConnected
	}
	s.touch()
	return client.Interrupt(ctx)
}

func (s *Store) Transcript() []transcript.Entry {
	return s.transcript.Entries()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		SessionID:      s.id,
		State:          s.state,
		Quality:        s.quality,
		Request:        s.req,
		LastActivityAt: s.lastActivity,
		LastError:      s.lastErr,
	}
	if s.state == StateConnected && s.stream != nil {
		info := s.stream.Borrow()
		snap.Stream = &info
		snap.StartedAt = s.startedAt
	}
	s.mu.Unlock()

	snap.Voice = s.voice.State()
	snap.Listening = snap.Voice.Listening()
	snap.TranscriptLen = s.transcript.Len()
	return snap
}

// AttachViewer registers a live viewer such as a websocket. The returned
// detach func reports whether it removed the last viewer; the caller then
// owns teardown.
func (s *Store) AttachViewer() (detach func() (last bool)) {
	s.mu.Lock()
	s.viewers++
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()

	var once sync.Once
	return func() bool {
		last := false
		once.Do(func() {
			s.mu.Lock()
			s.viewers--
			last = s.viewers == 0
			s.mu.Unlock()
		})
		return last
	}
}

func (s *Store) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Subscribe registers fn for updates. Observers run in registration order
// on the goroutine that caused the change.
func (s *Store) Subscribe(fn func(Update)) func() {
	s.mu.Lock()
	s.nextObserver++
	id := s.nextObserver
	s.observers = append(s.observers, observer{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, o := range s.observers {
				if o.id == id {
					s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) subscribe(client avatar.Client) []func() {
	unsubs := make([]func(), 0, len(subscribedEvents))
	for _, et := range subscribedEvents {
		unsubs = append(unsubs, client.On(et, func(ev avatar.Event) {
			s.handleEvent(client, ev)
		}))
	}
	return unsubs
}

// handleEvent applies one upstream event. Upstream events do not count as
// activity; only caller intents refresh the idle clock.
func (s *Store) handleEvent(client avatar.Client, ev avatar.Event) {
	s.evMu.Lock()
	s.mu.Lock()
	if s.client != client {
		s.mu.Unlock()
		s.evMu.Unlock()
		return
	}
	if ev.Type == avatar.EventConnectionQuality && ev.Quality != "" {
		s.quality = ev.Quality
	}
	s.mu.Unlock()

	var entry *transcript.Entry
	switch ev.Type {
	case avatar.EventUserTalkingMessage:
		e := s.transcript.Partial(transcript.SpeakerUser, ev.Message)
		entry = &e
	case avatar.EventUserEndMessage:
		e := s.transcript.Final(transcript.SpeakerUser, ev.Message)
		entry = &e
	case avatar.EventAvatarTalkingMessage:
		e := s.transcript.Partial(transcript.SpeakerAvatar, ev.Message)
		entry = &e
	case avatar.EventAvatarEndMessage:
		e := s.transcript.Final(transcript.SpeakerAvatar, ev.Message)
		entry = &e
	}
	if entry != nil && entry.Final {
		redacted, _ := policy.RedactPII(entry.Text)
		s.log.Debug().Str("speaker", string(entry.Speaker)).Str("text", redacted).Msg("utterance")
	}

	s.voice.HandleEvent(ev)
	s.evMu.Unlock()

	s.publish(Update{Kind: UpdateEvent, Event: &ev})
	if entry != nil {
		s.publish(Update{Kind: UpdateTranscript, Entry: entry})
	}

	if ev.Type == avatar.EventStreamDisconnected {
		s.log.Warn().Str("detail", ev.Message).Msg("stream disconnected")
		ctx, cancel := context.WithTimeout(context.Background(), s.stopTO)
		defer cancel()
		_ = s.Stop(ctx)
	}
}

func (s *Store) scheduleGreetingLocked(gen uint64) {
	if s.greeting == "" {
		return
	}
	s.greetTimer = time.AfterFunc(s.greetDelay, func() {
		s.mu.Lock()
		current := s.gen == gen && s.state == StateConnected
		s.mu.Unlock()
		if !current {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.stopTO)
		defer cancel()
		if err := s.SendMessage(ctx, s.greeting); err != nil {
			s.log.Warn().Err(err).Msg("greeting failed")
		}
	})
}

func (s *Store) recordLocked(outcome string, cause error) archive.Record {
	user, av := s.transcript.Counts()
	rec := archive.Record{
		SessionID:   s.id,
		AvatarName:  s.req.AvatarName,
		Language:    s.req.Language,
		StartedAt:   s.attemptAt,
		EndedAt:     time.Now().UTC(),
		Outcome:     outcome,
		UserTurns:   user,
		AvatarTurns: av,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	return rec
}

func (s *Store) emitEnd(rec archive.Record) {
	if s.onEnd != nil {
		s.onEnd(rec)
	}
}

func (s *Store) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Store) observe(stage string, d time.Duration) {
	if s.stages != nil {
		s.stages.ObserveStage(stage, d)
	}
}

func (s *Store) publish(u Update) {
	u.SessionID = s.id
	s.mu.Lock()
	if u.State == "" {
		u.State = s.state
	}
	list := make([]func(Update), 0, len(s.observers))
	for _, o := range s.observers {
		list = append(list, o.fn)
	}
	s.mu.Unlock()
	for _, fn := range list {
		fn(u)
	}
}
