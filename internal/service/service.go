// Package service exposes analysis sessions: start, status, cancel and result.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"codeguard/config"
	"codeguard/internal/analysis"
	"codeguard/internal/builder"
	"codeguard/internal/session"
	"codeguard/internal/types"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Pipeline runs the analysis of one session.
type Pipeline interface {
	Run(ctx context.Context, sessionID string, req analysis.Request, emit func(session.Event)) ([]types.VulnerabilityReport, error)
}

type Status struct {
	SessionID          string        `json:"session_id"`
	State              session.State `json:"state"`
	Mode               string        `json:"mode"`
	PartialResultCount int           `json:"partial_result_count"`
	CrashCount         int           `json:"crash_count"`
	TriagedPairs       int           `json:"triaged_pairs"`
	TotalPairs         int           `json:"total_pairs"`
	StartedAt          time.Time     `json:"started_at"`
	EndedAt            *time.Time    `json:"ended_at,omitempty"`
	Error              string        `json:"error,omitempty"`
}

// StatusOf is the externally visible view of a session.
func StatusOf(s session.Session) Status {
	st := Status{
		SessionID:          s.ID,
		State:              s.State,
		Mode:               s.Mode,
		PartialResultCount: s.PartialResults,
		CrashCount:         s.CrashCount,
		TriagedPairs:       s.TriagedPairs,
		TotalPairs:         s.TotalPairs,
		StartedAt:          s.StartedAt,
	}
	if !s.EndedAt.IsZero() {
		ended := s.EndedAt
		st.EndedAt = &ended
	}
	if s.Err != nil {
		st.Error = s.Err.Error()
	}
	return st
}

type AnalysisService struct {
	logger   *zap.Logger
	registry *session.Registry
	pipeline Pipeline
	timeout  time.Duration

	baseCtx context.Context
	wg      sync.WaitGroup
	mu      sync.Mutex
	done    map[string]chan struct{}
}

type AnalysisServiceParams struct {
	fx.In

	Logger   *zap.Logger
	Config   *config.AppConfig
	Registry *session.Registry
	Runner   *analysis.Runner
}

func NewAnalysisService(p AnalysisServiceParams) *AnalysisService {
	return New(p.Logger, p.Registry, p.Runner, p.Config.SessionConfig.SessionTimeout)
}

func New(logger *zap.Logger, registry *session.Registry, pipeline Pipeline, timeout time.Duration) *AnalysisService {
	return &AnalysisService{
		logger:   logger.Named("service"),
		registry: registry,
		pipeline: pipeline,
		timeout:  timeout,
		baseCtx:  context.Background(),
		done:     make(map[string]chan struct{}),
	}
}

// Start creates a session and runs it in the background.
func (s *AnalysisService) Start(req analysis.Request) (string, error) {
	if err := builder.CheckExtension(req.Path); err != nil {
		return "", err
	}
	mode, err := analysis.ParseMode(string(req.Mode))
	if err != nil {
		return "", err
	}
	req.Mode = mode

	sess, ctx := s.registry.Create(s.baseCtx, req.Path, string(req.Mode), s.timeout)
	done := make(chan struct{})
	s.mu.Lock()
	s.done[sess.ID] = done
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		s.run(ctx, sess.ID, req)
	}()
	return sess.ID, nil
}

func (s *AnalysisService) run(ctx context.Context, id string, req analysis.Request) {
	emit := func(e session.Event) {
		if _, err := s.registry.Apply(id, e); err != nil {
			s.logger.Warn("dropping event", zap.String("session_id", id), zap.Stringer("event", e.Kind), zap.Error(err))
		}
	}

	reports, err := s.pipeline.Run(ctx, id, req, emit)
	switch {
	case err == nil:
		emit(session.Event{Kind: session.EventCompleted, Result: reports})
	case errors.Is(err, session.ErrSessionTimeout):
		emit(session.Event{Kind: session.EventTimeout})
	case errors.Is(err, session.ErrCancelled):
		emit(session.Event{Kind: session.EventCancel})
	default:
		emit(session.Event{Kind: session.EventFailed, Err: err})
	}

	// a pipeline that returned early without error still has to end somewhere
	if final, ok := s.registry.Get(id); ok && !final.State.Terminal() {
		emit(session.Event{Kind: session.EventFailed, Err: fmt.Errorf("analysis ended in state %s", final.State)})
	}
}

func (s *AnalysisService) Status(id string) (Status, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return Status{}, session.ErrNotFound
	}
	return StatusOf(sess), nil
}

// Cancel returns true when the session was running and is now cancelled.
func (s *AnalysisService) Cancel(id string) bool {
	return s.registry.Cancel(id)
}

// Result is only available for completed sessions.
func (s *AnalysisService) Result(id string) ([]types.VulnerabilityReport, error) {
	return s.registry.Result(id)
}

// Wait blocks until the session's pipeline returned and its state is terminal.
func (s *AnalysisService) Wait(ctx context.Context, id string) (Status, error) {
	s.mu.Lock()
	done, ok := s.done[id]
	s.mu.Unlock()
	if !ok {
		return Status{}, session.ErrNotFound
	}
	select {
	case <-done:
	case <-ctx.Done():
		return Status{}, context.Cause(ctx)
	}
	return s.Status(id)
}

// Sweep evicts expired sessions.
func (s *AnalysisService) Sweep() {
	evicted := s.registry.Sweep()
	if len(evicted) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range evicted {
		delete(s.done, id)
	}
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *AnalysisService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Shutdown cancels every running session and waits for their pipelines.
func (s *AnalysisService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.done))
	for id := range s.done {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.registry.Cancel(id)
	}

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sessions still running: %w", context.Cause(ctx))
	}
}
