package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/z-tavern/salesbot/internal/model/chat"
	"github.com/zhouzirui/z-tavern/salesbot/internal/model/persona"
	"github.com/zhouzirui/z-tavern/salesbot/internal/service/orchestrator"
	"github.com/zhouzirui/z-tavern/salesbot/internal/store"
)

var (
	ErrSessionIDRequired = errors.New("session id is required")
	ErrMessageRequired   = errors.New("message is required")
)

// Turn outcomes reported to the TurnObserver.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
	OutcomeEscalate = "escalated"
)

const defaultTurnTimeout = 60 * time.Second

// Stepper computes the state delta of one turn.
type Stepper interface {
	Step(ctx context.Context, sessionID, message string, restored *chat.State) (chat.Delta, error)
}

// TurnObserver receives per-turn outcomes, typically for metrics.
// StageChanged only fires once the new state is persisted.
type TurnObserver interface {
	TurnCompleted(stage chat.Stage, outcome string, elapsed time.Duration)
	StageChanged(from, to chat.Stage)
}

// Reply is what the transport delivers back to the user.
type Reply struct {
	Answer          string     `json:"response"`
	EscalationAlert string     `json:"manager_alert,omitempty"`
	Stage           chat.Stage `json:"stage"`
	FirstMessage    bool       `json:"first_message"`
	Version         int64      `json:"version,omitempty"`
}

// Options configure a Service.
type Options struct {
	TurnTimeout time.Duration
	Observer    TurnObserver
}

// Service runs turns end to end: restore, step, merge and persist.
type Service struct {
	sessions store.SessionStore
	configs  persona.Store
	stepper  Stepper
	locks    *sessionLocks
	timeout  time.Duration
	observer TurnObserver
}

// NewService wires the turn pipeline around durable stores.
func NewService(sessions store.SessionStore, configs persona.Store, stepper Stepper, opts Options) *Service {
	timeout := opts.TurnTimeout
	if timeout <= 0 {
		timeout = defaultTurnTimeout
	}
	return &Service{
		sessions: sessions,
		configs:  configs,
		stepper:  stepper,
		locks:    newSessionLocks(),
		timeout:  timeout,
		observer: opts.Observer,
	}
}

// CreateSession provisions a fresh web session id. Nothing is stored until the first turn.
func (s *Service) CreateSession(_ context.Context) string {
	return uuid.NewString()
}

// HandleTurn processes one inbound message. It only returns an error for
// invalid input; every other failure becomes the apology reply with the
// stored state left untouched.
func (s *Service) HandleTurn(ctx context.Context, sessionID, message string) (Reply, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Reply{}, ErrSessionIDRequired
	}
	if strings.TrimSpace(message) == "" {
		return Reply{}, ErrMessageRequired
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, stage, err := s.runTurn(ctx, sessionID, message)
	outcome := OutcomeOK
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		outcome = OutcomeTimeout
	case err != nil:
		outcome = OutcomeFailed
	case reply.EscalationAlert != "":
		outcome = OutcomeEscalate
	}
	if s.observer != nil {
		s.observer.TurnCompleted(stage, outcome, time.Since(start))
	}

	if err != nil {
		log.Printf("[chat] turn failed for session=%s: %v", sessionID, err)
		return Reply{Answer: orchestrator.ApologyText, Stage: stage}, nil
	}
	return reply, nil
}

func (s *Service) runTurn(ctx context.Context, sessionID, message string) (Reply, chat.Stage, error) {
	release, err := s.locks.acquire(ctx, sessionID)
	if err != nil {
		return Reply{}, chat.StageAdmin, fmt.Errorf("wait for session lock: %w", err)
	}
	defer release()

	restored, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Reply{}, chat.StageAdmin, fmt.Errorf("restore session: %w", err)
	}
	if restored == nil {
		restored = &chat.State{}
	}

	delta, err := s.stepper.Step(ctx, sessionID, message, restored)
	if err != nil {
		return Reply{}, restored.Stage(), err
	}

	merged := restored.Apply(delta)
	version, err := s.sessions.Put(ctx, sessionID, merged)
	if err != nil {
		return Reply{}, restored.Stage(), fmt.Errorf("persist session: %w", err)
	}

	log.Printf("[chat] session=%s stage=%s->%s version=%d agent=%s",
		sessionID, restored.Stage(), merged.Stage(), version, merged.LastAgentName)

	from := restored.Stage()
	if !from.Valid() {
		from = chat.StageAdmin
	}
	if s.observer != nil && from != merged.Stage() {
		s.observer.StageChanged(from, merged.Stage())
	}

	return Reply{
		Answer:          merged.PendingAnswer,
		EscalationAlert: merged.EscalationAlert,
		Stage:           merged.Stage(),
		FirstMessage:    restored.UserMessageCount() == 0,
		Version:         version,
	}, merged.Stage(), nil
}

// GetState returns the latest stored state, or the implicit empty state.
func (s *Service) GetState(ctx context.Context, sessionID string) (*chat.State, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionIDRequired
	}
	state, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return &chat.State{}, nil
	}
	return state, nil
}

// Reset deletes every snapshot and the demo configuration of the session so
// the next turn behaves like a brand new conversation.
func (s *Service) Reset(ctx context.Context, sessionID string) (int64, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, ErrSessionIDRequired
	}

	release, err := s.locks.acquire(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	defer release()

	deleted, err := s.sessions.DeleteAll(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	if err := s.configs.Delete(ctx, sessionID); err != nil {
		return deleted, fmt.Errorf("delete demo config: %w", err)
	}
	log.Printf("[chat] session=%s reset, removed %d snapshots", sessionID, deleted)
	return deleted, nil
}

// History lists the stored snapshots of a session, oldest first.
func (s *Service) History(ctx context.Context, sessionID string) ([]store.Snapshot, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionIDRequired
	}
	return s.sessions.Versions(ctx, sessionID)
}

// StateAt returns the state as it was stored at version.
func (s *Service) StateAt(ctx context.Context, sessionID string, version int64) (*chat.State, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionIDRequired
	}
	return s.sessions.GetVersion(ctx, sessionID, version)
}
