// Package session owns the per-call conversational turn loop: it consumes
// telephony events, drives the conversation model, dispatches function
// calls, and guards the whole exchange with an inactivity watchdog.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voxbridge/voxbridge/internal/models"
	"github.com/voxbridge/voxbridge/pkg/agent"
	"github.com/voxbridge/voxbridge/pkg/dispatch"
	"github.com/voxbridge/voxbridge/pkg/logger"
	"github.com/voxbridge/voxbridge/pkg/metrics"
	"github.com/voxbridge/voxbridge/pkg/progress"
	"github.com/voxbridge/voxbridge/pkg/telephony"
	"github.com/voxbridge/voxbridge/pkg/watchdog"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Status is the session's position in its turn loop.
type Status string

const (
	StatusGreeting           Status = "greeting"
	StatusListening          Status = "listening"
	StatusDispatching        Status = "dispatching"
	StatusExecutingFunctions Status = "executing_functions"
	StatusSpeaking           Status = "speaking"
	StatusClosing            Status = "closing"
	StatusClosed             Status = "closed"
)

// Config wires one Session. Everything is injected at construction so
// tests can substitute fakes.
type Config struct {
	CallID string
	// CalledNumber is the number the caller dialed.
	CalledNumber string
	Room         telephony.Room
	Agent        agent.Agent
	// Dispatcher may be nil for agents with no declared functions.
	Dispatcher *dispatch.Dispatcher
	Emitter    *progress.Emitter
	// DB enables call-record bookkeeping when set.
	DB *gorm.DB

	Voice      telephony.Voice
	Recognizer telephony.Recognizer

	// OnHold reports whether the caller is parked outside the
	// conversation, as during a warm-transfer consultation. A held
	// caller is expected to be silent: clarify retries and watchdog
	// escalation are suspended until the hold lifts.
	OnHold func() bool

	// WatchdogTimeout guards each wait. Zero selects a 15s default.
	WatchdogTimeout time.Duration
	// GatherRetries bounds clarification attempts on silent or
	// low-confidence turns before the session gives up.
	GatherRetries int
	// ToolLoopLimit bounds model→function→model iterations per turn.
	ToolLoopLimit int
}

// Session is the orchestrator for one live call.
type Session struct {
	cfg Config

	wd      *watchdog.Watchdog
	pending *pendingTable

	turns   chan telephony.Event
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once

	mu            sync.Mutex
	status        Status
	gatherRetries int
	closeReason   string
}

// New builds a Session in the Greeting state.
func New(cfg Config) *Session {
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = 15 * time.Second
	}
	if cfg.GatherRetries <= 0 {
		cfg.GatherRetries = 2
	}
	if cfg.ToolLoopLimit <= 0 {
		cfg.ToolLoopLimit = 10
	}
	if cfg.Emitter == nil {
		cfg.Emitter = progress.NewEmitter()
	}
	if cfg.Recognizer.MinConfidence <= 0 {
		cfg.Recognizer.MinConfidence = 0.5
	}
	s := &Session{
		cfg:     cfg,
		pending: newPendingTable(),
		turns:   make(chan telephony.Event, 8),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		status:  StatusGreeting,
	}
	s.wd = watchdog.New(s.pending.Len)
	return s
}

// Status reports the current turn-loop state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// CloseReason reports why the session ended, once closed.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Done reports session completion.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run drives the session from answer to hangup. It returns only once the
// session reaches Closed.
func (s *Session) Run(ctx context.Context) error {
	defer s.finish()

	metrics.SessionsStarted.Inc()
	s.cfg.Emitter.Emit(progress.CallStarted(s.cfg.Room.Caller().Number))

	if err := s.cfg.Room.Answer(ctx); err != nil {
		logger.Error("answer failed", zap.String("call_id", s.cfg.CallID), zap.Error(err))
		s.close(false, "answer failed")
		return err
	}
	if s.cfg.DB != nil {
		caller := s.cfg.Room.Caller()
		if _, err := models.CreateCall(s.cfg.DB, s.cfg.CallID, caller.Number, s.cfg.CalledNumber, caller.TrunkID); err != nil {
			logger.Warn("call record create failed", zap.String("call_id", s.cfg.CallID), zap.Error(err))
		}
	}

	go s.pump()

	// Opening turn: greeting or silent wait, per agent mode.
	completion, err := s.cfg.Agent.Initial(ctx)
	if err != nil {
		logger.Error("initial turn failed", zap.String("call_id", s.cfg.CallID), zap.Error(err))
		s.speak(ctx, phraseFatal, progress.Goodbye(phraseFatal), false)
		s.close(false, "model failure")
		return err
	}
	s.deliver(ctx, completion)

	for {
		select {
		case <-ctx.Done():
			s.ForceClose()
			return ctx.Err()
		case <-s.closing:
			return nil
		case ev, ok := <-s.turns:
			if !ok {
				return nil
			}
			s.handleTurn(ctx, ev)
		}
	}
}

// pump is the single inbound event queue: it resolves acknowledgements
// inline and forwards user-turn triggers to the turn loop.
func (s *Session) pump() {
	for ev := range s.cfg.Room.Events() {
		switch e := ev.(type) {
		case *telephony.PlaybackEvent:
			// Only acks something waits on count as progress. The ack
			// for a watchdog prompt must not cancel the escalation.
			if s.pending.Resolve(e.CorrelationID) {
				s.wd.Disarm()
			}
		case *telephony.SpeechEvent, *telephony.SpeechTimeoutEvent:
			s.wd.Disarm()
			select {
			case s.turns <- ev:
			default:
				logger.Warn("turn queue full, dropping event",
					zap.String("call_id", s.cfg.CallID),
					zap.String("type", string(ev.Type())))
			}
		case *telephony.CloseEvent:
			logger.Info("call closed by transport",
				zap.String("call_id", s.cfg.CallID),
				zap.Int("code", e.Code),
				zap.String("reason", e.Reason))
			s.close(false, "transport close")
			return
		case *telephony.ErrorEvent:
			logger.Error("transport error",
				zap.String("call_id", s.cfg.CallID),
				zap.Error(e.Err))
			s.speak(context.Background(), phraseFatal, progress.Goodbye(phraseFatal), false)
			s.close(false, "transport error")
			return
		}
	}
	s.close(false, "transport closed")
}

func (s *Session) handleTurn(ctx context.Context, ev telephony.Event) {
	switch e := ev.(type) {
	case *telephony.SpeechEvent:
		if e.Confidence < s.cfg.Recognizer.MinConfidence {
			s.clarify(ctx)
			return
		}
		s.mu.Lock()
		s.gatherRetries = 0
		s.mu.Unlock()
		s.userTurn(ctx, e.Transcript)
	case *telephony.SpeechTimeoutEvent:
		s.clarify(ctx)
	}
}

// clarify asks the caller to repeat, bounded by the retry budget; once
// exhausted the session says goodbye and hangs up.
func (s *Session) clarify(ctx context.Context) {
	if s.held() {
		// Silence from a parked caller spends no retry budget.
		s.listen(ctx)
		return
	}
	s.mu.Lock()
	s.gatherRetries++
	exhausted := s.gatherRetries > s.cfg.GatherRetries
	s.mu.Unlock()

	if exhausted {
		s.ForceClose()
		return
	}
	s.speak(ctx, phraseClarify, progress.Injected(phraseClarify), true)
	s.listen(ctx)
}

func (s *Session) userTurn(ctx context.Context, transcript string) {
	s.cfg.Emitter.Emit(progress.UserSaid(transcript))
	s.setStatus(StatusDispatching)

	completion, err := s.cfg.Agent.Completion(ctx, transcript)
	if err != nil {
		// Model failure is recovered locally: apologize and keep
		// listening.
		logger.Error("completion failed", zap.String("call_id", s.cfg.CallID), zap.Error(err))
		s.speak(ctx, phraseApology, progress.Injected(phraseApology), true)
		s.listen(ctx)
		return
	}
	s.deliver(ctx, completion)
}

// deliver speaks a completion, draining its function-call loop first. The
// loop is bounded: a model cycling tool calls indefinitely is treated as a
// fatal turn error, not an infinite loop.
func (s *Session) deliver(ctx context.Context, completion agent.Completion) {
	for i := 0; len(completion.Calls) > 0; i++ {
		if i >= s.cfg.ToolLoopLimit {
			logger.Error("function-call loop exceeded limit",
				zap.String("call_id", s.cfg.CallID),
				zap.Int("limit", s.cfg.ToolLoopLimit))
			s.speak(ctx, phraseApology, progress.Injected(phraseApology), true)
			s.listen(ctx)
			return
		}
		// Data from interim completions is surfaced as it arrives, not
		// only from the turn's final completion.
		if completion.Data != nil {
			s.cfg.Emitter.Emit(progress.Data(completion.Data))
		}
		if completion.Text != "" {
			// Interim phrases ("checking stock") finish playing
			// before anything else is spoken.
			s.speak(ctx, completion.Text, progress.AgentSaid(completion.Text), true)
		}
		if s.cfg.Dispatcher == nil {
			logger.Warn("model requested functions but none are declared",
				zap.String("call_id", s.cfg.CallID))
			break
		}
		s.setStatus(StatusExecutingFunctions)
		results := s.cfg.Dispatcher.Execute(ctx, completion.Calls)

		var err error
		completion, err = s.cfg.Agent.CallResult(ctx, results)
		if err != nil {
			logger.Error("call-result turn failed", zap.String("call_id", s.cfg.CallID), zap.Error(err))
			s.speak(ctx, phraseApology, progress.Injected(phraseApology), true)
			s.listen(ctx)
			return
		}
	}

	if completion.Data != nil {
		s.cfg.Emitter.Emit(progress.Data(completion.Data))
	}
	if completion.Text != "" {
		if completion.Hangup {
			// Paired with immediate hangup: no need to await playback.
			s.speakFinal(ctx, completion.Text)
			s.close(false, "agent hangup")
			return
		}
		s.speak(ctx, completion.Text, progress.AgentSaid(completion.Text), true)
	}
	if completion.Hangup {
		s.close(true, "agent hangup")
		return
	}
	s.listen(ctx)
}

// listen re-arms speech recognition and the watchdog for the next turn.
func (s *Session) listen(ctx context.Context) {
	if s.isClosing() {
		return
	}
	s.setStatus(StatusListening)
	if err := s.cfg.Room.Gather(ctx, s.cfg.Recognizer); err != nil {
		logger.Error("gather failed", zap.String("call_id", s.cfg.CallID), zap.Error(err))
		s.speak(ctx, phraseFatal, progress.Goodbye(phraseFatal), false)
		s.close(false, "gather failed")
		return
	}
	s.wd.Arm(s.recoverStillThere, s.cfg.WatchdogTimeout)
}

// speak issues one utterance. With await set it blocks until the telephony
// playback acknowledgement arrives (or the session closes); the watchdog
// guards the wait.
func (s *Session) speak(ctx context.Context, text string, ev progress.Event, await bool) {
	if s.isClosing() || text == "" {
		return
	}
	s.setStatus(StatusSpeaking)
	s.cfg.Emitter.Emit(ev)

	id := uuid.NewString()
	var ack <-chan struct{}
	if await {
		ack = s.pending.Add(id)
	}
	if err := s.cfg.Room.Say(ctx, text, s.cfg.Voice, id); err != nil {
		logger.Error("say failed", zap.String("call_id", s.cfg.CallID), zap.Error(err))
		s.pending.Remove(id)
		return
	}
	if !await {
		return
	}
	s.wd.Arm(s.recoverStillThere, s.cfg.WatchdogTimeout)
	select {
	case <-ack:
	case <-s.closing:
	case <-ctx.Done():
		s.pending.Remove(id)
	}
}

// speakFinal speaks text without awaiting playback, for utterances paired
// with an immediate hangup.
func (s *Session) speakFinal(ctx context.Context, text string) {
	s.cfg.Emitter.Emit(progress.AgentSaid(text))
	id := uuid.NewString()
	if err := s.cfg.Room.Say(ctx, text, s.cfg.Voice, id); err != nil {
		logger.Warn("final say failed", zap.String("call_id", s.cfg.CallID), zap.Error(err))
	}
}

// recoverStillThere is the first watchdog escalation: inject a prompt and
// hand the next fire to the destructive level.
func (s *Session) recoverStillThere() watchdog.RecoveryFunc {
	if s.isClosing() {
		return nil
	}
	if s.held() {
		// A parked caller is expected to be silent. Stay at the
		// non-destructive level until the hold lifts.
		return s.recoverStillThere
	}
	metrics.WatchdogEscalations.WithLabelValues("prompt").Inc()
	s.cfg.Emitter.Emit(progress.Injected(phraseStillThere))
	if err := s.cfg.Room.Say(context.Background(), phraseStillThere, s.cfg.Voice, uuid.NewString()); err != nil {
		logger.Warn("watchdog prompt failed", zap.String("call_id", s.cfg.CallID), zap.Error(err))
	}
	return s.recoverHangup
}

// recoverHangup is the last escalation: goodbye and terminate.
func (s *Session) recoverHangup() watchdog.RecoveryFunc {
	metrics.WatchdogEscalations.WithLabelValues("hangup").Inc()
	s.ForceClose()
	return nil
}

// ForceClose speaks a goodbye and hangs up regardless of state. Idempotent:
// a second call on a closed session is a no-op.
func (s *Session) ForceClose() {
	s.close(true, "forced close")
}

// close runs the terminal path exactly once: optional goodbye, hangup
// signal to observers, hangup command to telephony.
func (s *Session) close(speakGoodbye bool, reason string) {
	s.closeOnce.Do(func() {
		s.setStatus(StatusClosing)
		s.mu.Lock()
		s.closeReason = reason
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if speakGoodbye {
			s.cfg.Emitter.Emit(progress.Goodbye(phraseGoodbye))
			if err := s.cfg.Room.Say(ctx, phraseGoodbye, s.cfg.Voice, uuid.NewString()); err != nil {
				logger.Warn("goodbye failed", zap.String("call_id", s.cfg.CallID), zap.Error(err))
			}
		}
		s.cfg.Emitter.Emit(progress.Hangup())
		if err := s.cfg.Room.Hangup(ctx); err != nil {
			logger.Debug("hangup failed", zap.String("call_id", s.cfg.CallID), zap.Error(err))
		}
		close(s.closing)
	})
}

// finish releases session resources once the loop exits.
func (s *Session) finish() {
	s.wd.Disarm()
	s.pending.Close()
	if err := s.cfg.Agent.Close(); err != nil {
		logger.Debug("agent close failed", zap.String("call_id", s.cfg.CallID), zap.Error(err))
	}
	if s.cfg.DB != nil {
		if err := models.EndCall(s.cfg.DB, s.cfg.CallID, s.CloseReason()); err != nil {
			logger.Warn("call record end failed", zap.String("call_id", s.cfg.CallID), zap.Error(err))
		}
	}
	metrics.SessionsClosed.WithLabelValues(s.CloseReason()).Inc()
	s.setStatus(StatusClosed)
	logger.Info("session closed",
		zap.String("call_id", s.cfg.CallID),
		zap.String("reason", s.CloseReason()))
	close(s.done)
}

func (s *Session) held() bool {
	return s.cfg.OnHold != nil && s.cfg.OnHold()
}

func (s *Session) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}
