package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"medvoice/app/service/booking"
	"medvoice/app/service/flow"
	"medvoice/app/service/llm"
	"medvoice/app/service/store"

	"github.com/samber/do"
)

const (
	sweepInterval = time.Minute
	idleTimeout   = 30 * time.Minute
)

// Service is the registry of live conversations, one Session per call.
type Service struct {
	llmSvc     *llm.Service
	bookingSvc *booking.Service
	storeSvc   *store.Service

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(di *do.Injector) (*Service, error) {
	return &Service{
		llmSvc:     do.MustInvoke[*llm.Service](di),
		bookingSvc: do.MustInvoke[*booking.Service](di),
		storeSvc:   do.MustInvoke[*store.Service](di),
		sessions:   make(map[string]*Session),
	}, nil
}

// GetOrCreate returns the session for a call, wiring a fresh flow engine on
// first contact.
func (s *Service) GetOrCreate(ctx context.Context, callID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[callID]; ok {
		return sess, nil
	}

	state := flow.NewState(callID)

	sess := &Session{
		id:         callID,
		state:      state,
		llm:        s.llmSvc,
		recorder:   s.storeSvc,
		lastActive: time.Now(),
	}

	engine := flow.NewEngine(state, sess, s.bookingSvc.GlobalFunctions())
	sess.engine = flow.NewTrackedEngine(
		engine,
		s.bookingSvc.Tracker(),
		booking.TransferNode,
		s.bookingSvc.EscalationCallback(),
	)

	if err := sess.engine.SetNode(ctx, s.bookingSvc.InitialNode()); err != nil {
		return nil, fmt.Errorf("set initial node: %w", err)
	}

	s.sessions[callID] = sess

	slog.Info("Session started", "call_id", callID)

	return sess, nil
}

// End finalizes and drops a session. Unknown call IDs are a no-op.
func (s *Service) End(ctx context.Context, callID string) {
	s.mu.Lock()
	sess, ok := s.sessions[callID]
	delete(s.sessions, callID)
	s.mu.Unlock()

	if ok {
		sess.Teardown(ctx)
	}
}

// Run sweeps idle sessions until the context is cancelled, then finalizes
// whatever is still live so records are not lost on shutdown.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.teardownAll(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	live := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	// Idle checks take each session's own lock, so they happen outside the
	// registry lock: a session mid-turn must not stall new calls.
	var expired []*Session
	for _, sess := range live {
		if sess.idleSince(now) > idleTimeout {
			expired = append(expired, sess)
		}
	}

	s.mu.Lock()
	for _, sess := range expired {
		delete(s.sessions, sess.id)
	}
	s.mu.Unlock()

	for _, sess := range expired {
		slog.Info("Sweeping idle session", "call_id", sess.id)
		sess.Teardown(ctx)
	}
}

func (s *Service) teardownAll(ctx context.Context) {
	s.mu.Lock()
	remaining := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		remaining = append(remaining, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range remaining {
		sess.Teardown(ctx)
	}
}
