package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeguard/config"
	"codeguard/internal/builder"
	"codeguard/internal/corpus"
	"codeguard/internal/crash"
	"codeguard/internal/dedup"
	"codeguard/internal/dict"
	"codeguard/internal/fuzz"
	"codeguard/internal/session"
	"codeguard/internal/triage"
	"codeguard/internal/types"
	"codeguard/internal/utils"
	"codeguard/pkg/telemetry"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrNoExecutableTarget = errors.New("no executable target could be built")

// Compiler is the part of the sanitizer compiler the runner depends on.
type Compiler interface {
	builder.Compiler
	Kinds(defaults []types.SanitizerKind) []types.SanitizerKind
}

// Runner drives one session through build, fuzzing, collection, triage and
// dedup. It never touches session state directly; it reports events.
type Runner struct {
	logger        *zap.Logger
	config        *config.AppConfig
	compiler      Compiler
	corpus        *corpus.CorpusGrabber
	dict          *dict.DictGrabber
	supervisor    *fuzz.Supervisor
	collector     *crash.Collector
	monitor       *crash.Monitor
	triage        *triage.Pipeline
	tracerFactory *telemetry.TracerFactory
}

type RunnerParams struct {
	fx.In

	Logger        *zap.Logger
	Config        *config.AppConfig
	Compiler      *builder.SanitizerCompiler
	Corpus        *corpus.CorpusGrabber
	Dict          *dict.DictGrabber
	Supervisor    *fuzz.Supervisor
	Collector     *crash.Collector
	Monitor       *crash.Monitor
	Triage        *triage.Pipeline
	TracerFactory *telemetry.TracerFactory
}

func NewRunner(p RunnerParams) *Runner {
	return &Runner{
		logger:        p.Logger.Named("analysis"),
		config:        p.Config,
		compiler:      p.Compiler,
		corpus:        p.Corpus,
		dict:          p.Dict,
		supervisor:    p.Supervisor,
		collector:     p.Collector,
		monitor:       p.Monitor,
		triage:        p.Triage,
		tracerFactory: p.TracerFactory,
	}
}

// workspace is the on-disk state of one session.
type workspace struct {
	root   string
	source string
	binDir string
	layout corpus.Layout
}

// Run executes the pipeline for one session and returns the deduplicated
// reports. emit receives lifecycle and progress events; it is called from
// the calling goroutine and from triage workers, one at a time.
//
// When ctx ends Run stops at the next stage boundary (or earlier, inside
// engines and triage) and returns the context cause.
func (r *Runner) Run(ctx context.Context, sessionID string, req Request, emit func(session.Event)) ([]types.VulnerabilityReport, error) {
	logger := r.logger.With(zap.String("session_id", sessionID))

	tracer := r.tracerFactory.NewTracer(ctx, "analysis session").WithAttributes(
		telemetry.NewSpanAttributes(telemetry.SessionStage).
			WithSessionID(sessionID).
			WithSourceFile(filepath.Base(req.Path)),
	)
	tracer.Start()
	defer tracer.End()
	ctx = telemetry.WithTracer(ctx, tracer)

	ws, err := r.prepare(sessionID, req)
	if err != nil {
		tracer.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer r.cleanup(logger, ws)

	reports, err := r.run(ctx, logger, ws, req, emit)
	if err != nil {
		tracer.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	tracer.SetStatus(codes.Ok, fmt.Sprintf("%d vulnerabilities", len(reports)))
	return reports, nil
}

func (r *Runner) run(ctx context.Context, logger *zap.Logger, ws *workspace, req Request, emit func(session.Event)) ([]types.VulnerabilityReport, error) {
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}

	// build
	if err := context.Cause(ctx); err != nil {
		return nil, err
	}
	kinds := r.compiler.Kinds(r.config.SanitizerKinds)
	binaries := types.Usable(builder.BuildAll(ctx, r.compiler, logger, ws.source, ws.binDir, kinds))
	if err := context.Cause(ctx); err != nil {
		return nil, err
	}

	var target fuzz.Target
	if mode == ModeFuzz {
		target = fuzz.Target{
			Binary:     filepath.Join(ws.binDir, stem(ws.source)+"_fuzz"),
			StdinInput: r.config.TargetInput == "stdin",
		}
		autoDict := filepath.Join(ws.binDir, "auto.dict")
		if err := r.compiler.BuildFuzzTarget(ctx, ws.source, target.Binary, autoDict); err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return nil, cause
			}
			logger.Warn("fuzz target build failed, falling back to direct mode", zap.Error(err))
			mode = ModeDirect
			target = fuzz.Target{}
		} else {
			target.DictPath = r.dictionary(ctx, logger, ws, autoDict)
		}
	}

	if len(binaries) == 0 {
		if target.Binary == "" {
			return nil, ErrNoExecutableTarget
		}
		logger.Warn("no sanitizer binary built, triaging with the fuzz target")
		binaries = []types.SanitizerBinary{{
			Kind:   types.AddressSanitizer,
			Path:   target.Binary,
			Status: types.BuildSucceeded,
		}}
	}

	// corpus
	if err := context.Cause(ctx); err != nil {
		return nil, err
	}
	if _, err := r.corpus.CollectSeeds(ctx, ws.layout, req.Seeds); err != nil && !errors.Is(err, corpus.ErrNoSeeds) {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		logger.Warn("seed collection failed", zap.Error(err))
	}

	var inputs []types.CrashInput
	if mode == ModeFuzz {
		inputs, err = r.fuzz(ctx, logger, ws, req, target, emit)
		if errors.Is(err, fuzz.ErrNoEngineStarted) {
			logger.Warn("no fuzzing engine started, falling back to direct mode")
			mode = ModeDirect
		} else if err != nil {
			return nil, err
		}
	}

	emit(session.Event{Kind: session.EventAnalysisStarted})

	if mode == ModeDirect {
		seeds, err := ws.layout.SeedFiles()
		if err != nil {
			logger.Warn("failed to list seeds", zap.Error(err))
		}
		inputs, err = r.collector.CollectFiles(ctx, seeds)
		if err != nil {
			return nil, err
		}
	}
	emit(session.Event{Kind: session.EventProgress, Crashes: len(inputs)})
	logger.Info("crash inputs ready", zap.String("mode", string(mode)), zap.Int("count", len(inputs)))

	// triage
	if err := context.Cause(ctx); err != nil {
		return nil, err
	}
	pairs := triage.Pairs(inputs, binaries)
	raw, err := r.triage.Run(ctx, pairs, func(p types.Progress) {
		emit(session.Event{Kind: session.EventProgress, Pair: &p})
	})
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, err
	}

	// dedup
	dedupTracer := telemetry.FromContext(ctx).Spawn("deduplicating reports")
	dedupTracer.Start()
	reports := dedup.Deduplicate(raw)
	dedupTracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.DedupStage).WithCrashCount(len(reports)))
	dedupTracer.End()

	logger.Info("analysis finished", zap.Int("raw_reports", len(raw)), zap.Int("reports", len(reports)))
	return reports, nil
}

// fuzz runs the engines and collects their crashes once they all stopped.
func (r *Runner) fuzz(ctx context.Context, logger *zap.Logger, ws *workspace, req Request, target fuzz.Target, emit func(session.Event)) ([]types.CrashInput, error) {
	budget := req.FuzzBudget
	if budget <= 0 {
		budget = r.config.SessionConfig.FuzzBudget
	}

	emit(session.Event{Kind: session.EventFuzzingStarted})

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	crashes := 0
	monitorDone := r.monitor.Watch(monitorCtx, ws.layout, func(msg types.CrashMessage) {
		crashes++
		logger.Debug("crash found", zap.String("engine", msg.Engine), zap.String("crash_input", msg.CrashFile))
		emit(session.Event{Kind: session.EventProgress, Crashes: crashes})
	})

	handles, err := r.supervisor.Run(ctx, ws.layout, target, budget)
	stopMonitor()
	<-monitorDone
	if err != nil {
		return nil, err
	}

	// engines are stopped and reaped; the crash set is final from here on
	return r.collector.Collect(ctx, ws.layout, handles)
}

// dictionary returns the merged dictionary path, or "" when there is none.
func (r *Runner) dictionary(ctx context.Context, logger *zap.Logger, ws *workspace, autoDict string) string {
	path, err := r.dict.GrabDict(ctx, ws.source, filepath.Join(ws.root, "codeguard.dict"), autoDict)
	if err != nil {
		if !errors.Is(err, dict.ErrEmptyDict) {
			logger.Warn("dictionary disabled", zap.Error(err))
		}
		return ""
	}
	return path
}

func (r *Runner) prepare(sessionID string, req Request) (*workspace, error) {
	root := filepath.Join(r.config.WorkDir, sessionID)
	ws := &workspace{
		root:   root,
		binDir: filepath.Join(root, "bin"),
		layout: corpus.NewLayout(root),
	}
	for _, dir := range []string{filepath.Join(root, "src"), ws.binDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	if err := ws.layout.Prepare(); err != nil {
		return nil, fmt.Errorf("failed to prepare corpus: %w", err)
	}

	ws.source = filepath.Join(root, "src", filepath.Base(req.Path))
	if len(req.SourceCode) == 0 {
		if err := utils.CopyFile(req.Path, ws.source); err != nil {
			os.RemoveAll(root)
			return nil, fmt.Errorf("%w: %w", builder.ErrUnsupportedSource, err)
		}
	} else if err := os.WriteFile(ws.source, req.SourceCode, 0644); err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("failed to write source: %w", err)
	}
	if err := builder.ValidateSource(ws.source); err != nil {
		os.RemoveAll(root)
		return nil, err
	}
	return ws, nil
}

func (r *Runner) cleanup(logger *zap.Logger, ws *workspace) {
	if r.config.KeepArtifacts {
		logger.Info("keeping session artifacts", zap.String("dir", ws.root))
		return
	}
	// engines may still be flushing when they get killed
	for range 3 {
		err := os.RemoveAll(ws.root)
		if err == nil {
			return
		}
		logger.Debug("cleanup retry", zap.Error(err))
		time.Sleep(100 * time.Millisecond)
	}
	logger.Warn("failed to remove session artifacts", zap.String("dir", ws.root))
}

func stem(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}
