package fuzz

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"codeguard/config"
	"codeguard/internal/corpus"
	"codeguard/internal/proc"
	"codeguard/pkg/telemetry"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	// ErrBudgetElapsed is the cause attached to the fuzzing context when the
	// wall-clock budget runs out.
	ErrBudgetElapsed = errors.New("fuzzing budget elapsed")
	// ErrNoEngineStarted is returned when not a single instance could be launched.
	ErrNoEngineStarted = errors.New("no fuzzing engine started")
)

type Supervisor struct {
	logger  *zap.Logger
	engines []Engine
	grace   time.Duration
}

type SupervisorParams struct {
	fx.In

	Logger  *zap.Logger
	Config  *config.AppConfig
	Engines []Engine `group:"engines"`
}

func NewSupervisor(params SupervisorParams) *Supervisor {
	logger := params.Logger.Named("supervisor")
	engines := make([]Engine, 0, len(params.Engines))
	for _, engine := range params.Engines {
		engineV := reflect.ValueOf(engine)
		if engine == nil || (engineV.Kind() == reflect.Ptr && engineV.IsNil()) {
			continue // engine not installed
		}
		engines = append(engines, engine)
		logger.Debug("engine registered", zap.String("engine", engine.Name()))
	}

	return &Supervisor{
		logger:  logger,
		engines: engines,
		grace:   params.Config.Toolchain.EngineGrace,
	}
}

func (s *Supervisor) Engines() []Engine {
	return s.engines
}

// Run launches every planned instance against the shared corpus and blocks
// until the budget elapses, ctx is done, or any started instance exits on
// its own. All started instances are then interrupted and reaped before Run
// returns.
//
// The returned handles are in launch order and include instances that failed
// to start. The error is ErrNoEngineStarted when nothing ran, the cause of
// ctx when the caller cancelled, and nil otherwise: an early exit or the end
// of the budget is a normal end of fuzzing.
func (s *Supervisor) Run(ctx context.Context, layout corpus.Layout, target Target, budget time.Duration) ([]*EngineHandle, error) {
	if err := context.Cause(ctx); err != nil {
		return nil, err
	}
	tracer := telemetry.FromContext(ctx)

	var handles []*EngineHandle
launching:
	for _, engine := range s.engines {
		if context.Cause(ctx) != nil {
			break
		}
		specs, err := engine.Plan(layout, target, budget)
		if err != nil {
			s.logger.Warn("engine could not be planned, skipping",
				zap.String("engine", engine.Name()),
				zap.Error(err))
			continue
		}
		for _, spec := range specs {
			if context.Cause(ctx) != nil {
				break launching
			}
			handles = append(handles, s.launch(tracer, layout, spec))
		}
	}

	started := Started(handles)
	if err := context.Cause(ctx); err != nil {
		s.logger.Info("cancelled while launching engines", zap.Int("started", len(started)), zap.Error(err))
		s.stopAll(started)
		return handles, err
	}
	if len(started) == 0 {
		s.logger.Warn("no engine instance started")
		return handles, ErrNoEngineStarted
	}

	fuzzCtx, cancel := context.WithTimeoutCause(ctx, budget, ErrBudgetElapsed)
	defer cancel()

	exited := make(chan *EngineHandle, len(started))
	for _, h := range started {
		go func() {
			<-h.proc.Done()
			exited <- h
		}()
	}

	select {
	case <-fuzzCtx.Done():
		s.logger.Info("stopping engines", zap.NamedError("reason", context.Cause(fuzzCtx)))
	case h := <-exited:
		h.ExitedEarly = true
		s.logger.Warn("engine exited early, winding down",
			zap.String("instance", h.ID),
			zap.Error(h.proc.Err()))
	}

	s.stopAll(started)

	if err := context.Cause(ctx); err != nil {
		return handles, err
	}
	return handles, nil
}

func (s *Supervisor) launch(tracer telemetry.Tracer, layout corpus.Layout, spec InstanceSpec) *EngineHandle {
	h := &EngineHandle{
		ID:        spec.ID,
		Engine:    spec.Engine,
		OutputDir: layout.EngineDir(spec.ID),
		spec:      spec,
	}

	p, err := proc.Start(spec.Cmd, s.grace)
	if err != nil {
		h.StartErr = err
		s.logger.Warn("engine instance failed to start",
			zap.String("engine", spec.Engine),
			zap.String("instance", spec.ID),
			zap.Error(err))
		return h
	}

	h.Started = true
	h.proc = p
	h.tracer = tracer.Spawn(spec.SpanName).WithAttributes(
		telemetry.NewSpanAttributes(telemetry.FuzzStage).WithEngine(spec.ID),
	)
	h.tracer.Start()
	s.logger.Info("engine instance started",
		zap.String("engine", spec.Engine),
		zap.String("instance", spec.ID),
		zap.Int("pid", p.Pid()),
		zap.String("command", spec.Cmd.String()))
	return h
}

// stopAll interrupts every instance concurrently so grace periods overlap,
// then records exit status and engine statistics.
func (s *Supervisor) stopAll(handles []*EngineHandle) {
	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.proc.Stop()
		}()
	}
	wg.Wait()

	for _, h := range handles {
		h.ExitErr = h.proc.Err()
		if h.ExitErr != nil && !h.proc.Interrupted() {
			h.tracer.SetStatus(codes.Error, fmt.Sprintf("exited: %v", h.ExitErr))
		}
		if h.spec.Stats != nil {
			if attrs, err := h.spec.Stats(); err != nil {
				s.logger.Debug("no engine statistics", zap.String("instance", h.ID), zap.Error(err))
			} else {
				h.tracer.WithAttributes(attrs)
			}
		}
		h.tracer.End()
		s.logger.Debug("engine instance stopped",
			zap.String("instance", h.ID),
			zap.Bool("exited_early", h.ExitedEarly),
			zap.Bool("interrupted", h.proc.Interrupted()),
			zap.NamedError("exit", h.ExitErr))
	}
}
