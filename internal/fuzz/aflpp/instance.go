package aflpp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"codeguard/pkg/telemetry"

	"go.uber.org/zap"
)

type AFLInstance struct {
	Name       string          // name of the instance, also its directory under the sync root
	Mode       AFLInstanceMode // master or worker
	InputDir   string          // -i <inputDir>
	OutputDir  string          // -o <outputDir>
	DictPath   string          // path to the dictionary file, if any
	Timeout    int             // timeout in ms for each fuzzing iteration
	Harness    string          // path to the target binary
	StdinInput bool            // feed inputs through stdin instead of @@
	Env        []string        // environment variables to set for the afl-fuzz process

	logger *zap.Logger
}

type AFLInstanceMode int

const (
	AFLMaster AFLInstanceMode = iota // -M
	AFLWorker                        // -S
)

// Command builds the afl-fuzz invocation. Supervision is left to the caller.
func (m AFLInstance) Command(aflFuzz string) *exec.Cmd {
	cmd := exec.Command(aflFuzz, m.buildArgs()...)
	cmd.Env = append(os.Environ(), m.Env...)
	return cmd
}

// Stats reads fuzzer_stats once the instance has exited.
func (m AFLInstance) Stats() (*telemetry.SpanAttributes, error) {
	fuzzerStatsPath := filepath.Join(m.OutputDir, m.Name, "fuzzer_stats")
	data, err := os.ReadFile(fuzzerStatsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read fuzzer stats: %w", err)
	}
	return parseFuzzerStats(bytes.NewReader(data), m.logger)
}

// parseFuzzerStats reads from r line by line, expecting "key: value" pairs.
// Returns an error only if an unexpected I/O error occurs.
func parseFuzzerStats(r io.Reader, logger *zap.Logger) (*telemetry.SpanAttributes, error) {
	attrs := telemetry.EmptySpanAttributes()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rawKey, rawValue, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		rawKey = strings.TrimSpace(rawKey)
		rawValue = strings.TrimSpace(rawValue)

		logger.Debug("parsed fuzzer stat", zap.String("key", rawKey), zap.String("value", rawValue))

		switch rawKey {
		case "saved_crashes", "unique_crashes":
			var n int
			if _, err := fmt.Sscanf(rawValue, "%d", &n); err == nil {
				attrs = attrs.WithCrashCount(n)
			}
		case "corpus_count", "paths_total":
			var n int
			if _, err := fmt.Sscanf(rawValue, "%d", &n); err == nil {
				attrs = attrs.WithCorpusSize(n)
			}
		}
		attrs = attrs.WithExtraAttribute("fuzzer.afl."+rawKey, rawValue)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return attrs, nil
}

// buildArgs follows the engine contract
// `afl-fuzz -i <seeds> -o <sync> -M|-S <name> [-t ..] [-x ..] -- <target> [@@]`.
func (m AFLInstance) buildArgs() []string {
	args := []string{"-i", m.InputDir, "-o", m.OutputDir}

	switch m.Mode {
	case AFLMaster:
		args = append(args, "-M", m.Name)
	case AFLWorker:
		args = append(args, "-S", m.Name)
	}

	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	args = append(args, "-t", fmt.Sprintf("%d+", timeout))

	if m.DictPath != "" {
		args = append(args, "-x", m.DictPath)
	}

	args = append(args, "--", m.Harness)
	if !m.StdinInput {
		args = append(args, "@@")
	}
	return args
}

func defaultAFLEnv() []string {
	return []string{
		"AFL_NO_UI=1",
		"AFL_I_DONT_CARE_ABOUT_MISSING_CRASHES=1",
		"AFL_SKIP_CPUFREQ=1",
		"AFL_TRY_AFFINITY=1",
		"AFL_FAST_CAL=1",
		"AFL_FORKSRV_INIT_TMOUT=30000",
		"AFL_IGNORE_PROBLEMS=1",             // do not terminate fuzzing
		"AFL_IGNORE_SEED_PROBLEMS=1",        // keep fuzzing past crashing seeds
		"AFL_CRASHING_SEEDS_AS_NEW_CRASH=1", // and record them under crashes/
		"AFL_IGNORE_UNKNOWN_ENVS=1",
	}
}

// AFL_FINAL_SYNC makes the master import its siblings' queues once more on exit.
func masterAFLEnv() []string {
	return append(defaultAFLEnv(), "AFL_FINAL_SYNC=1")
}
