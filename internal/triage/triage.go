package triage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"codeguard/config"
	"codeguard/internal/proc"
	"codeguard/internal/types"
	"codeguard/pkg/telemetry"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrCancelled = errors.New("triage cancelled")

// Pair is one unit of triage work.
type Pair struct {
	Input  types.CrashInput
	Binary types.SanitizerBinary
}

// Pairs crosses inputs and binaries, input-major, keeping both orders.
// Binaries that failed to build are left out.
func Pairs(inputs []types.CrashInput, binaries []types.SanitizerBinary) []Pair {
	usable := types.Usable(binaries)
	pairs := make([]Pair, 0, len(inputs)*len(usable))
	for _, in := range inputs {
		for _, bin := range usable {
			pairs = append(pairs, Pair{Input: in, Binary: bin})
		}
	}
	return pairs
}

type Pipeline struct {
	logger      *zap.Logger
	command     []string
	stdin       bool
	parallelism int
	timeout     time.Duration
	grace       time.Duration
}

type PipelineParams struct {
	fx.In

	Logger *zap.Logger
	Config *config.AppConfig
}

func NewPipeline(p PipelineParams) *Pipeline {
	return &Pipeline{
		logger:      p.Logger.Named("triage"),
		command:     strings.Fields(p.Config.Toolchain.TriageCmd),
		stdin:       p.Config.TargetInput == "stdin",
		parallelism: max(p.Config.TriageConfig.Parallelism, 1),
		timeout:     p.Config.TriageConfig.PairTimeout,
		grace:       p.Config.Toolchain.EngineGrace,
	}
}

// Run triages every pair, at most parallelism at a time. A failing pair is
// logged and skipped. onProgress, when set, is called once per attempted
// pair, never concurrently.
//
// The reports are in pair order regardless of completion order. When ctx is
// cancelled the remaining pairs are abandoned and the reports produced so
// far are returned with an error wrapping ErrCancelled and the cause.
func (p *Pipeline) Run(ctx context.Context, pairs []Pair, onProgress func(types.Progress)) ([]types.RawCrashReport, error) {
	tracer := telemetry.FromContext(ctx).Spawn("triaging crashes")
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.TriageStage).WithPairCount(len(pairs)))
	tracer.Start()
	defer tracer.End()

	if len(p.command) == 0 {
		return nil, errors.New("no triage command configured")
	}

	results := make([]*types.RawCrashReport, len(pairs))
	var (
		mu        sync.Mutex
		attempted int
	)
	notify := func(pair Pair, err error) {
		mu.Lock()
		defer mu.Unlock()
		attempted++
		if onProgress != nil {
			onProgress(types.Progress{
				Sanitizer: pair.Binary.Kind,
				InputID:   pair.Input.ID,
				Attempted: attempted,
				Total:     len(pairs),
				Err:       err,
			})
		}
	}

	var g errgroup.Group
	g.SetLimit(p.parallelism)
	for i, pair := range pairs {
		if ctx.Err() != nil {
			break
		}
		// blocks while all slots are busy
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			report, err := p.triagePair(ctx, pair)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("triage failed for pair",
						zap.String("sanitizer", pair.Binary.Kind.String()),
						zap.String("crash_input", pair.Input.Path),
						zap.Error(err))
				}
			} else {
				results[i] = &report
			}
			notify(pair, err)
			return nil
		})
	}
	g.Wait()

	reports := make([]types.RawCrashReport, 0, len(pairs))
	for _, r := range results {
		if r != nil {
			reports = append(reports, *r)
		}
	}

	if cause := context.Cause(ctx); cause != nil {
		tracer.SetStatus(codes.Error, "cancelled")
		p.logger.Info("triage cancelled", zap.Int("reports", len(reports)), zap.Int("attempted", attempted))
		return reports, fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
	p.logger.Info("triage finished", zap.Int("pairs", len(pairs)), zap.Int("reports", len(reports)))
	return reports, nil
}

func (p *Pipeline) triagePair(ctx context.Context, pair Pair) (types.RawCrashReport, error) {
	pairCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		pairCtx, cancel = context.WithTimeoutCause(ctx, p.timeout,
			fmt.Errorf("triage of %s timed out after %s", pair.Input.ID, p.timeout))
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(p.command[0], p.args(pair)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = os.Environ()

	if err := proc.Run(pairCtx, cmd, p.grace); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return types.RawCrashReport{}, fmt.Errorf("%w: %s", err, lastLine(msg))
		}
		return types.RawCrashReport{}, err
	}
	return ParseReport(stdout.Bytes(), pair.Input, pair.Binary.Kind)
}

// args builds `<cmd...> --stdout [--stdin <input>] -- <binary> [<input>]`.
func (p *Pipeline) args(pair Pair) []string {
	args := append([]string{}, p.command[1:]...)
	args = append(args, "--stdout")
	if p.stdin {
		return append(args, "--stdin", pair.Input.Path, "--", pair.Binary.Path)
	}
	return append(args, "--", pair.Binary.Path, pair.Input.Path)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
