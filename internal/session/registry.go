package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"codeguard/config"
	"codeguard/internal/types"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Observer is told about every state change, after it happened.
type Observer interface {
	OnTransition(ctx context.Context, prev, next Session)
}

type entry struct {
	session Session
	cancel  context.CancelCauseFunc
}

// Registry is the single owner of session state. Every mutation goes
// through Apply.
type Registry struct {
	logger    *zap.Logger
	retention time.Duration
	observers []Observer
	now       func() time.Time

	// notifyMu orders whole Apply calls so observers see transitions in
	// the order they were applied.
	notifyMu sync.Mutex
	mu       sync.Mutex
	sessions map[string]*entry
}

type RegistryParams struct {
	fx.In

	Logger    *zap.Logger
	Config    *config.AppConfig
	Observers []Observer `group:"observers"`
}

func NewRegistry(p RegistryParams) *Registry {
	observers := make([]Observer, 0, len(p.Observers))
	for _, o := range p.Observers {
		if o != nil {
			observers = append(observers, o)
		}
	}
	return &Registry{
		logger:    p.Logger.Named("session"),
		retention: p.Config.SessionConfig.RetentionWindow,
		observers: observers,
		now:       time.Now,
		sessions:  make(map[string]*entry),
	}
}

// Create registers a new session in the initializing state. The returned
// context is cancelled when the session is cancelled, times out or is
// released; its cause tells which.
func (r *Registry) Create(parent context.Context, sourcePath, mode string, timeout time.Duration) (Session, context.Context) {
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(parent))
	if timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(ctx, timeout, ErrSessionTimeout)
		inner := cancel
		cancel = func(cause error) {
			inner(cause)
			stop()
		}
	}

	s := Session{
		ID:         uuid.NewString(),
		SourcePath: sourcePath,
		State:      Initializing,
		Mode:       mode,
		StartedAt:  r.now(),
	}

	r.mu.Lock()
	r.sessions[s.ID] = &entry{session: s, cancel: cancel}
	r.mu.Unlock()

	// the timer and the cancel signal meet here
	context.AfterFunc(ctx, func() {
		if errors.Is(context.Cause(ctx), ErrSessionTimeout) {
			r.Apply(s.ID, Event{Kind: EventTimeout})
		}
	})

	r.logger.Info("session created", zap.String("session_id", s.ID), zap.String("mode", mode))
	return s, ctx
}

// Apply runs one event through the state machine and returns the new snapshot.
func (r *Registry) Apply(id string, e Event) (Session, error) {
	if e.At.IsZero() {
		e.At = r.now()
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	ent, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return Session{}, ErrNotFound
	}
	prev := ent.session
	next := Apply(prev, e)
	ent.session = next
	cancel := ent.cancel
	r.mu.Unlock()

	if prev.State != next.State {
		r.logger.Info("session transition",
			zap.String("session_id", id),
			zap.String("from", string(prev.State)),
			zap.String("to", string(next.State)),
			zap.Stringer("event", e.Kind),
			zap.NamedError("reason", next.Err))
		if next.State.Terminal() {
			// running stages stop here; a completed session releases its timer
			cancel(terminalCause(next))
		}
		for _, o := range r.observers {
			o.OnTransition(context.Background(), prev, next)
		}
	}
	return next, nil
}

func terminalCause(s Session) error {
	if s.Err != nil {
		return s.Err
	}
	return context.Canceled
}

// Cancel forces the session into cancelled. It returns false when the
// session is unknown or already terminal.
func (r *Registry) Cancel(id string) bool {
	prev, ok := r.Get(id)
	if !ok || prev.State.Terminal() {
		return false
	}
	next, err := r.Apply(id, Event{Kind: EventCancel})
	return err == nil && next.State == Cancelled
}

func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return ent.session, true
}

// Result is only available once the session completed.
func (r *Registry) Result(id string) ([]types.VulnerabilityReport, error) {
	s, ok := r.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if s.State != Completed {
		return nil, ErrNotCompleted
	}
	return s.Result, nil
}

// Sweep evicts sessions whose terminal state is older than the retention
// window and returns their ids.
func (r *Registry) Sweep() []string {
	cutoff := r.now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	for id, ent := range r.sessions {
		s := ent.session
		if s.State.Terminal() && !s.EndedAt.After(cutoff) {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	if len(evicted) > 0 {
		r.logger.Debug("sessions evicted", zap.Strings("session_ids", evicted))
	}
	return evicted
}

// Len is the number of sessions currently held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
