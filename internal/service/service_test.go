package service

import (
	"context"
	"testing"
	"time"

	"codeguard/config"
	"codeguard/internal/analysis"
	"codeguard/internal/builder"
	"codeguard/internal/session"
	"codeguard/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Run(ctx context.Context, id string, req analysis.Request, emit func(session.Event)) ([]types.VulnerabilityReport, error) {
	args := m.Called(ctx, id, req, emit)
	if fn, ok := args.Get(0).(func(context.Context, func(session.Event)) ([]types.VulnerabilityReport, error)); ok {
		return fn(ctx, emit)
	}
	return args.Get(0).([]types.VulnerabilityReport), args.Error(1)
}

type runFunc = func(context.Context, func(session.Event)) ([]types.VulnerabilityReport, error)

func newService(t *testing.T, timeout time.Duration, run runFunc) (*AnalysisService, *mockPipeline) {
	t.Helper()
	cfg := &config.AppConfig{SessionConfig: config.SessionConfig{RetentionWindow: time.Minute}}
	registry := session.NewRegistry(session.RegistryParams{Logger: zap.NewNop(), Config: cfg})
	pipeline := &mockPipeline{}
	pipeline.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(run, nil)
	return New(zap.NewNop(), registry, pipeline, timeout), pipeline
}

func request() analysis.Request {
	return analysis.Request{SourceCode: []byte("int main(){}"), Path: "main.c"}
}

func wait(t *testing.T, s *AnalysisService, id string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := s.Wait(ctx, id)
	require.NoError(t, err)
	return st
}

func TestCompletedSession(t *testing.T) {
	report := types.VulnerabilityReport{ID: "r1", Line: 4, CweID: "CWE-121"}
	s, pipeline := newService(t, time.Minute, func(ctx context.Context, emit func(session.Event)) ([]types.VulnerabilityReport, error) {
		emit(session.Event{Kind: session.EventFuzzingStarted})
		emit(session.Event{Kind: session.EventAnalysisStarted})
		emit(session.Event{Kind: session.EventProgress, Pair: &types.Progress{Attempted: 1, Total: 1}})
		return []types.VulnerabilityReport{report}, nil
	})

	id, err := s.Start(request())
	require.NoError(t, err)

	st := wait(t, s, id)
	assert.Equal(t, session.Completed, st.State)
	assert.Equal(t, 1, st.PartialResultCount)
	assert.Empty(t, st.Error)
	assert.NotNil(t, st.EndedAt)

	result, err := s.Result(id)
	require.NoError(t, err)
	assert.Equal(t, []types.VulnerabilityReport{report}, result)
	assert.False(t, s.Cancel(id), "cancel after completion is a no-op")

	pipeline.AssertNumberOfCalls(t, "Run", 1)
}

func TestCompletedWithoutFindings(t *testing.T) {
	s, _ := newService(t, time.Minute, func(ctx context.Context, emit func(session.Event)) ([]types.VulnerabilityReport, error) {
		emit(session.Event{Kind: session.EventAnalysisStarted})
		return []types.VulnerabilityReport{}, nil
	})

	id, err := s.Start(request())
	require.NoError(t, err)
	assert.Equal(t, session.Completed, wait(t, s, id).State)

	result, err := s.Result(id)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestSessionTimeout(t *testing.T) {
	s, _ := newService(t, 200*time.Millisecond, func(ctx context.Context, emit func(session.Event)) ([]types.VulnerabilityReport, error) {
		emit(session.Event{Kind: session.EventFuzzingStarted})
		<-ctx.Done()
		return nil, context.Cause(ctx)
	})

	id, err := s.Start(request())
	require.NoError(t, err)

	st := wait(t, s, id)
	assert.Equal(t, session.Failed, st.State)
	assert.Equal(t, session.ErrSessionTimeout.Error(), st.Error)
	_, err = s.Result(id)
	assert.ErrorIs(t, err, session.ErrNotCompleted)
}

func TestCancelMidTriageHidesResult(t *testing.T) {
	triaging := make(chan struct{})
	s, _ := newService(t, time.Minute, func(ctx context.Context, emit func(session.Event)) ([]types.VulnerabilityReport, error) {
		emit(session.Event{Kind: session.EventAnalysisStarted})
		emit(session.Event{Kind: session.EventProgress, Pair: &types.Progress{Attempted: 1, Total: 3}})
		close(triaging)
		<-ctx.Done()
		// reports already produced are dropped with the cancellation
		return []types.VulnerabilityReport{{ID: "partial"}}, context.Cause(ctx)
	})

	id, err := s.Start(request())
	require.NoError(t, err)
	<-triaging

	assert.True(t, s.Cancel(id))
	st := wait(t, s, id)
	assert.Equal(t, session.Cancelled, st.State)
	assert.Equal(t, 1, st.PartialResultCount)

	_, err = s.Result(id)
	assert.ErrorIs(t, err, session.ErrNotCompleted)
}

func TestFailedSession(t *testing.T) {
	s, _ := newService(t, time.Minute, func(ctx context.Context, emit func(session.Event)) ([]types.VulnerabilityReport, error) {
		return nil, analysis.ErrNoExecutableTarget
	})

	id, err := s.Start(request())
	require.NoError(t, err)
	st := wait(t, s, id)
	assert.Equal(t, session.Failed, st.State)
	assert.Equal(t, analysis.ErrNoExecutableTarget.Error(), st.Error)
}

func TestStartRejectsBadRequests(t *testing.T) {
	s, pipeline := newService(t, time.Minute, nil)

	_, err := s.Start(analysis.Request{Path: "main.rs"})
	assert.ErrorIs(t, err, builder.ErrUnsupportedSource)

	_, err = s.Start(analysis.Request{Path: "main.c", Mode: "symbolic"})
	assert.Error(t, err)

	pipeline.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUnknownSession(t *testing.T) {
	s, _ := newService(t, time.Minute, nil)

	_, err := s.Status("nope")
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = s.Result("nope")
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = s.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.False(t, s.Cancel("nope"))
}

func TestShutdownCancelsRunningSessions(t *testing.T) {
	s, _ := newService(t, time.Minute, func(ctx context.Context, emit func(session.Event)) ([]types.VulnerabilityReport, error) {
		<-ctx.Done()
		return nil, context.Cause(ctx)
	})

	id, err := s.Start(request())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	st, err := s.Status(id)
	require.NoError(t, err)
	assert.Equal(t, session.Cancelled, st.State)
}

func TestPipelineReturningWithoutTerminalEventFails(t *testing.T) {
	s, _ := newService(t, time.Minute, func(ctx context.Context, emit func(session.Event)) ([]types.VulnerabilityReport, error) {
		// completing straight from initializing is not a valid transition
		return nil, nil
	})

	id, err := s.Start(request())
	require.NoError(t, err)
	assert.Equal(t, session.Failed, wait(t, s, id).State)
}

func TestStartNormalizesMode(t *testing.T) {
	s, pipeline := newService(t, time.Minute, func(ctx context.Context, emit func(session.Event)) ([]types.VulnerabilityReport, error) {
		emit(session.Event{Kind: session.EventAnalysisStarted})
		return nil, nil
	})

	req := request()
	req.Mode = "Direct"
	id, err := s.Start(req)
	require.NoError(t, err)
	wait(t, s, id)

	st, err := s.Status(id)
	require.NoError(t, err)
	assert.Equal(t, string(analysis.ModeDirect), st.Mode)
	got := pipeline.Calls[0].Arguments.Get(2).(analysis.Request)
	assert.Equal(t, analysis.ModeDirect, got.Mode)

	req.Mode = ""
	id, err = s.Start(req)
	require.NoError(t, err)
	wait(t, s, id)
	assert.Equal(t, analysis.ModeFuzz, pipeline.Calls[1].Arguments.Get(2).(analysis.Request).Mode)
}
