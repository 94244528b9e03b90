package config

import (
	"codeguard/internal/types"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"LOG_LEVEL", "SERVICE_NAME", "CORE_COUNT", "SANITIZERS", "FUZZ_BUDGET", "TARGET_INPUT", "TRIAGE_PARALLELISM"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "codeguard", cfg.ServiceName)
	assert.Equal(t, 4, cfg.CoreCount)
	assert.Equal(t, 60*time.Second, cfg.SessionConfig.FuzzBudget)
	assert.Equal(t, "file", cfg.TargetInput)
	assert.Equal(t, types.AllSanitizers(), cfg.SanitizerKinds)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("CORE_COUNT", "0")
	t.Setenv("FUZZ_BUDGET", "5s")
	t.Setenv("TRIAGE_PARALLELISM", "-3")
	t.Setenv("TARGET_INPUT", "stdin")
	t.Setenv("SANITIZERS", "ubsan, asan")

	cfg := LoadConfig()

	assert.Equal(t, 1, cfg.CoreCount)
	assert.Equal(t, 5*time.Second, cfg.SessionConfig.FuzzBudget)
	assert.Equal(t, 1, cfg.TriageConfig.Parallelism)
	assert.Equal(t, "stdin", cfg.TargetInput)
	assert.Equal(t, []types.SanitizerKind{types.UndefinedSanitizer, types.AddressSanitizer}, cfg.SanitizerKinds)
}

func TestParseSanitizers(t *testing.T) {
	logger := zap.NewNop()

	assert.Equal(t, types.AllSanitizers(), parseSanitizers("bogus", logger))
	assert.Equal(t,
		[]types.SanitizerKind{types.MemorySanitizer},
		parseSanitizers("msan,memory,nope", logger))
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseDuration("nonsense", 3*time.Second))
	assert.Equal(t, 7, parseInt("x", 7))
	assert.True(t, parseBool("true", false))
	assert.False(t, parseBool("maybe", false))
	assert.Equal(t, "dflt", parseString("", "dflt"))
}
