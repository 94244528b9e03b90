package triage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeguard/config"
	"codeguard/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCasr answers according to the content of the crash input.
const fakeCasr = `#!/bin/sh
for a in "$@"; do last="$a"; done
content=$(cat "$last")
case "$content" in
  crash*)
    echo '{"CrashLine":"/src/vuln.c:12:5","Stacktrace":["#0 0x1 in strcpy","#1 0x2 in main /src/vuln.c:12:5"],"CrashSeverity":{"Type":"EXPLOITABLE","ShortDescription":"stack-buffer-overflow(write)","Description":"Stack buffer overflow"}}'
    ;;
  garbage)
    echo "not json"
    ;;
  slow)
    sleep 30
    ;;
  *)
    echo "Program terminated (no crash)" >&2
    exit 1
    ;;
esac
`

func newTestPipeline(t *testing.T, parallelism int, timeout time.Duration) *Pipeline {
	t.Helper()
	script := filepath.Join(t.TempDir(), "casr-san")
	require.NoError(t, os.WriteFile(script, []byte(fakeCasr), 0755))

	cfg := &config.AppConfig{
		TargetInput: "file",
		Toolchain:   config.ToolchainConfig{TriageCmd: script, EngineGrace: 200 * time.Millisecond},
		TriageConfig: config.TriageConfig{
			Parallelism: parallelism,
			PairTimeout: timeout,
		},
	}
	return NewPipeline(PipelineParams{Logger: zap.NewNop(), Config: cfg})
}

func crashInputs(t *testing.T, contents ...string) []types.CrashInput {
	t.Helper()
	dir := t.TempDir()
	var inputs []types.CrashInput
	for i, c := range contents {
		path := filepath.Join(dir, c+string(rune('a'+i)))
		require.NoError(t, os.WriteFile(path, []byte(c), 0644))
		inputs = append(inputs, types.CrashInput{ID: c, Engine: "master", Path: path})
	}
	return inputs
}

func binaries() []types.SanitizerBinary {
	return []types.SanitizerBinary{
		{Kind: types.AddressSanitizer, Path: "/bin/asan", Status: types.BuildSucceeded},
		{Kind: types.UndefinedSanitizer, Path: "/bin/ubsan", Status: types.BuildSucceeded},
		{Kind: types.MemorySanitizer, Path: "/bin/msan", Status: types.BuildFailed},
	}
}

func TestPairsSkipsFailedBuilds(t *testing.T) {
	pairs := Pairs(crashInputs(t, "crash1", "crash2"), binaries())
	require.Len(t, pairs, 4)
	assert.Equal(t, "crash1", pairs[0].Input.ID)
	assert.Equal(t, types.AddressSanitizer, pairs[0].Binary.Kind)
	assert.Equal(t, types.UndefinedSanitizer, pairs[1].Binary.Kind)
	assert.Equal(t, "crash2", pairs[2].Input.ID)
}

func TestRunSkipsFailingPairs(t *testing.T) {
	p := newTestPipeline(t, 4, 10*time.Second)
	pairs := Pairs(crashInputs(t, "crash1", "garbage", "clean", "crash2"), binaries())

	var mu sync.Mutex
	var progress []types.Progress
	reports, err := p.Run(context.Background(), pairs, func(pr types.Progress) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, pr)
	})
	require.NoError(t, err)

	require.Len(t, reports, 4)
	assert.Equal(t, "crash1", reports[0].Input.ID)
	assert.Equal(t, types.AddressSanitizer, reports[0].Sanitizer)
	assert.Equal(t, types.UndefinedSanitizer, reports[1].Sanitizer)
	assert.Equal(t, "crash2", reports[2].Input.ID)
	assert.Equal(t, 12, reports[0].Line)
	assert.Equal(t, "CWE-121", reports[0].CweID)
	assert.Equal(t, types.SeverityHigh, reports[0].Severity)

	require.Len(t, progress, len(pairs))
	assert.Equal(t, len(pairs), progress[len(progress)-1].Attempted)
	failed := 0
	for _, pr := range progress {
		assert.Equal(t, len(pairs), pr.Total)
		if pr.Err != nil {
			failed++
		}
	}
	assert.Equal(t, 4, failed)
}

func TestRunPairTimeout(t *testing.T) {
	p := newTestPipeline(t, 2, 300*time.Millisecond)
	pairs := Pairs(crashInputs(t, "slow", "crash"), binaries()[:1])

	started := time.Now()
	reports, err := p.Run(context.Background(), pairs, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 10*time.Second)
	require.Len(t, reports, 1)
	assert.Equal(t, "crash", reports[0].Input.ID)
}

func TestRunCancelledKeepsReports(t *testing.T) {
	p := newTestPipeline(t, 1, time.Minute)
	pairs := Pairs(crashInputs(t, "crash", "slow", "crash2"), binaries()[:1])

	stop := errors.New("user cancelled")
	ctx, cancel := context.WithCancelCause(context.Background())
	var attempted []string
	reports, err := p.Run(ctx, pairs, func(pr types.Progress) {
		attempted = append(attempted, pr.InputID)
		if pr.InputID == "crash" {
			time.AfterFunc(200*time.Millisecond, func() { cancel(stop) })
		}
	})

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, stop)
	require.Len(t, reports, 1)
	assert.Equal(t, "crash", reports[0].Input.ID)
	assert.NotContains(t, attempted, "crash2")
}

func TestRunAlreadyCancelled(t *testing.T) {
	p := newTestPipeline(t, 2, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports, err := p.Run(ctx, Pairs(crashInputs(t, "crash"), binaries()), func(types.Progress) {
		t.Error("no pair may be attempted")
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, reports)
}

func TestArgs(t *testing.T) {
	p := &Pipeline{command: []string{"casr-san", "--ignore", "x"}}
	pair := Pair{
		Input:  types.CrashInput{Path: "/c/input"},
		Binary: types.SanitizerBinary{Path: "/b/vuln_address"},
	}
	assert.Equal(t, []string{"--ignore", "x", "--stdout", "--", "/b/vuln_address", "/c/input"}, p.args(pair))

	p.stdin = true
	assert.Equal(t, []string{"--ignore", "x", "--stdout", "--stdin", "/c/input", "--", "/b/vuln_address"}, p.args(pair))
}
