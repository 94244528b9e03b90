package crash

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeguard/internal/corpus"
	"codeguard/internal/fuzz"
	"codeguard/internal/types"
	"codeguard/pkg/watchdog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeCrash(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestCollectOrderAndDedup(t *testing.T) {
	layout := corpus.NewLayout(t.TempDir())
	require.NoError(t, layout.Prepare())

	writeCrash(t, layout.CrashDir("master"), "id:000001,sig:11", "bbb")
	writeCrash(t, layout.CrashDir("master"), "id:000000,sig:06", "aaa")
	writeCrash(t, layout.CrashDir("master"), "README.txt", "afl readme")
	writeCrash(t, layout.CrashDir("master"), ".cur_input", "partial")
	writeCrash(t, layout.CrashDir("worker_1"), "id:000000,sig:06", "aaa") // same bytes as master's
	writeCrash(t, layout.CrashDir("worker_1"), "id:000001,sig:06", "ccc")
	writeCrash(t, layout.CrashDir("eclipser"), "crash-1", "ddd")

	handles := []*fuzz.EngineHandle{
		{ID: "master", Engine: "aflpp", Started: true},
		{ID: "worker_1", Engine: "aflpp", Started: true},
		{ID: "eclipser", Engine: "concolic", Started: false},
	}

	inputs, err := NewCollector(zap.NewNop()).Collect(context.Background(), layout, handles)
	require.NoError(t, err)

	var got []string
	for _, in := range inputs {
		content, err := in.Content()
		require.NoError(t, err)
		got = append(got, in.Engine+":"+string(content))
	}
	assert.Equal(t, []string{"master:aaa", "master:bbb", "worker_1:ccc"}, got)
	assert.Equal(t, "47bce5c74f589f4867dbd57e9ca9f808", inputs[0].ID)
	assert.False(t, inputs[0].DiscoveredAt.IsZero())
}

func TestCollectMissingCrashDir(t *testing.T) {
	layout := corpus.NewLayout(t.TempDir())
	inputs, err := NewCollector(zap.NewNop()).Collect(context.Background(), layout,
		[]*fuzz.EngineHandle{{ID: "master", Started: true}})
	require.NoError(t, err)
	assert.Empty(t, inputs)
}

func TestCollectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCollector(zap.NewNop()).Collect(ctx, corpus.NewLayout(t.TempDir()),
		[]*fuzz.EngineHandle{{ID: "master", Started: true}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	writeCrash(t, dir, "seed_a", "same")
	writeCrash(t, dir, "seed_b", "same")
	writeCrash(t, dir, "seed_c", "other")

	inputs, err := NewCollector(zap.NewNop()).CollectFiles(context.Background(), []string{
		filepath.Join(dir, "seed_a"),
		filepath.Join(dir, "missing"),
		filepath.Join(dir, "seed_b"),
		filepath.Join(dir, "seed_c"),
	})
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, DirectEngine, inputs[0].Engine)
	assert.Equal(t, filepath.Join(dir, "seed_c"), inputs[1].Path)
}

func TestIsCrashFile(t *testing.T) {
	assert.True(t, IsCrashFile("/x/crashes/id:000000,sig:11"))
	assert.False(t, IsCrashFile("/x/crashes/README.txt"))
	assert.False(t, IsCrashFile("/x/crashes/.tmp-123"))
}

func TestMonitorReportsNewCrashes(t *testing.T) {
	layout := corpus.NewLayout(t.TempDir())
	require.NoError(t, layout.Prepare())
	crashDir := layout.CrashDir("master")
	require.NoError(t, os.MkdirAll(crashDir, 0755))

	m := NewMonitor(zap.NewNop(), watchdog.NewWatchDogFactory(zap.NewNop()))
	m.interval = 20 * time.Millisecond

	var mu sync.Mutex
	var seen []types.CrashMessage
	ctx, cancel := context.WithCancel(context.Background())
	stopped := m.Watch(ctx, layout, func(msg types.CrashMessage) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg)
	})

	// keep writing until the folder is picked up by the poller
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(crashDir, "id:"+time.Now().Format("150405.000000000")), []byte("x"), 0644)
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "master", seen[0].Engine)
}
