package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"codeguard/config"
	"codeguard/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var allEvents = []EventKind{
	EventFuzzingStarted, EventAnalysisStarted, EventCompleted,
	EventFailed, EventTimeout, EventCancel, EventProgress,
}

var allStates = []State{Initializing, Fuzzing, Analyzing, Completed, Failed, Cancelled}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from State
		ev   EventKind
		to   State
	}{
		{Initializing, EventFuzzingStarted, Fuzzing},
		{Initializing, EventAnalysisStarted, Analyzing}, // direct mode
		{Fuzzing, EventAnalysisStarted, Analyzing},
		{Analyzing, EventCompleted, Completed},
		{Fuzzing, EventCompleted, Fuzzing},
		{Analyzing, EventFuzzingStarted, Analyzing},
		{Fuzzing, EventCancel, Cancelled},
		{Analyzing, EventTimeout, Failed},
		{Initializing, EventFailed, Failed},
		{Completed, EventCancel, Completed},
		{Cancelled, EventTimeout, Cancelled},
		{Failed, EventCompleted, Failed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.to, Transition(tt.from, tt.ev), "%s + %s", tt.from, tt.ev)
	}
}

func TestTransitionIsTotalAndMonotonic(t *testing.T) {
	for _, s := range allStates {
		for _, e := range allEvents {
			next := Transition(s, e)
			assert.GreaterOrEqual(t, next.rank(), s.rank(), "%s + %s", s, e)
			if s.Terminal() {
				assert.Equal(t, s, next)
			}
		}
	}
}

func TestRandomInterleavingsReachOneTerminalState(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	at := time.Unix(1700000000, 0)
	for i := 0; i < 1000; i++ {
		s := Session{State: Initializing}
		var terminal State
		for j := 0; j < 20; j++ {
			e := Event{Kind: allEvents[rng.Intn(len(allEvents))], At: at}
			next := Apply(s, e)
			assert.GreaterOrEqual(t, next.State.rank(), s.State.rank())
			if next.State.Terminal() {
				if terminal == "" {
					terminal = next.State
				}
				assert.Equal(t, terminal, next.State, "second terminal state observed")
			}
			s = next
		}
	}
}

func TestApplyKeepsResultOnlyWhenCompleted(t *testing.T) {
	s := Session{State: Analyzing}
	s = Apply(s, Event{Kind: EventProgress, Pair: &types.Progress{Attempted: 1, Total: 2}})
	s = Apply(s, Event{Kind: EventProgress, Pair: &types.Progress{Attempted: 2, Total: 2, Err: errors.New("x")}})
	assert.Equal(t, 1, s.PartialResults)
	assert.Equal(t, 2, s.TriagedPairs)

	cancelled := Apply(s, Event{Kind: EventCancel})
	assert.Equal(t, Cancelled, cancelled.State)
	assert.ErrorIs(t, cancelled.Err, ErrCancelled)

	late := Apply(cancelled, Event{Kind: EventCompleted, Result: []types.VulnerabilityReport{{ID: "r"}}})
	assert.Equal(t, Cancelled, late.State)
	assert.Nil(t, late.Result)
}

func newRegistry(retention time.Duration, observers ...Observer) *Registry {
	cfg := &config.AppConfig{SessionConfig: config.SessionConfig{RetentionWindow: retention}}
	return NewRegistry(RegistryParams{Logger: zap.NewNop(), Config: cfg, Observers: observers})
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []State
}

func (o *recordingObserver) OnTransition(_ context.Context, _, next Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, next.State)
}

func (o *recordingObserver) states() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State{}, o.transitions...)
}

func TestRegistryLifecycle(t *testing.T) {
	obs := &recordingObserver{}
	r := newRegistry(time.Minute, obs)

	s, ctx := r.Create(context.Background(), "vuln.c", "fuzz", time.Minute)
	assert.Equal(t, Initializing, s.State)

	_, err := r.Apply(s.ID, Event{Kind: EventFuzzingStarted})
	require.NoError(t, err)
	_, err = r.Result(s.ID)
	assert.ErrorIs(t, err, ErrNotCompleted)

	_, err = r.Apply(s.ID, Event{Kind: EventAnalysisStarted})
	require.NoError(t, err)
	done, err := r.Apply(s.ID, Event{Kind: EventCompleted, Result: []types.VulnerabilityReport{{ID: "r1"}}})
	require.NoError(t, err)
	assert.Equal(t, Completed, done.State)

	result, err := r.Result(s.ID)
	require.NoError(t, err)
	assert.Len(t, result, 1)

	// completion releases the session context without cancelling the session
	<-ctx.Done()
	got, _ := r.Get(s.ID)
	assert.Equal(t, Completed, got.State)
	assert.False(t, r.Cancel(s.ID))

	assert.Equal(t, []State{Fuzzing, Analyzing, Completed}, obs.states())
}

func TestRegistryTimeout(t *testing.T) {
	r := newRegistry(time.Minute)
	s, ctx := r.Create(context.Background(), "vuln.c", "fuzz", 100*time.Millisecond)

	<-ctx.Done()
	assert.ErrorIs(t, context.Cause(ctx), ErrSessionTimeout)
	require.Eventually(t, func() bool {
		got, _ := r.Get(s.ID)
		return got.State == Failed
	}, 5*time.Second, 10*time.Millisecond)

	got, _ := r.Get(s.ID)
	assert.ErrorIs(t, got.Err, ErrSessionTimeout)
	_, err := r.Result(s.ID)
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestRegistryCancelPropagates(t *testing.T) {
	r := newRegistry(time.Minute)
	s, ctx := r.Create(context.Background(), "vuln.c", "fuzz", time.Minute)
	_, err := r.Apply(s.ID, Event{Kind: EventFuzzingStarted})
	require.NoError(t, err)

	assert.True(t, r.Cancel(s.ID))
	assert.False(t, r.Cancel(s.ID), "second cancel is a no-op")
	assert.False(t, r.Cancel("unknown"))

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("session context not cancelled")
	}
	assert.ErrorIs(t, context.Cause(ctx), ErrCancelled)

	// a late completion from a running stage is absorbed
	got, err := r.Apply(s.ID, Event{Kind: EventCompleted, Result: []types.VulnerabilityReport{{ID: "r"}}})
	require.NoError(t, err)
	assert.Equal(t, Cancelled, got.State)
	_, err = r.Result(s.ID)
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestRegistryUnknownSession(t *testing.T) {
	r := newRegistry(time.Minute)
	_, err := r.Apply("nope", Event{Kind: EventCancel})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Result("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistrySweep(t *testing.T) {
	r := newRegistry(time.Minute)
	now := time.Unix(1700000000, 0)
	r.now = func() time.Time { return now }

	done, _ := r.Create(context.Background(), "a.c", "direct", time.Minute)
	running, _ := r.Create(context.Background(), "b.c", "fuzz", time.Minute)
	r.Cancel(done.ID)

	assert.Empty(t, r.Sweep(), "still inside the retention window")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, []string{done.ID}, r.Sweep())
	_, ok := r.Get(done.ID)
	assert.False(t, ok)
	_, ok = r.Get(running.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, r.Len())
}

type slowObserver struct {
	mu     sync.Mutex
	states map[string][]State
}

func (o *slowObserver) OnTransition(_ context.Context, _, next Session) {
	// widen the window between the state change and its delivery
	time.Sleep(time.Duration(rand.Intn(200)) * time.Microsecond)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[next.ID] = append(o.states[next.ID], next.State)
}

func TestObserversSeeTransitionsInOrder(t *testing.T) {
	obs := &slowObserver{states: make(map[string][]State)}
	r := newRegistry(time.Minute, obs)

	var ids []string
	for range 100 {
		s, _ := r.Create(context.Background(), "vuln.c", "fuzz", time.Minute)
		ids = append(ids, s.ID)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Cancel(s.ID)
		}()
		go func() {
			defer wg.Done()
			r.Apply(s.ID, Event{Kind: EventFuzzingStarted})
			r.Apply(s.ID, Event{Kind: EventAnalysisStarted})
		}()
		wg.Wait()
	}

	for _, id := range ids {
		final, ok := r.Get(id)
		require.True(t, ok)
		seen := obs.states[id]
		require.NotEmpty(t, seen)
		for i := 1; i < len(seen); i++ {
			assert.Less(t, seen[i-1].rank(), seen[i].rank(), "delivered out of order: %v", seen)
		}
		assert.Equal(t, final.State, seen[len(seen)-1])
	}
}
