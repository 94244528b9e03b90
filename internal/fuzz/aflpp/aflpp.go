package aflpp

import (
	"fmt"
	"os/exec"
	"time"

	"codeguard/config"
	"codeguard/internal/corpus"
	"codeguard/internal/fuzz"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// DefaultExecTimeout is the per-execution timeout in ms passed with -t.
const DefaultExecTimeout = 5000

type AFLEngine struct {
	logger    *zap.Logger
	aflFuzz   string
	instances int
}

type AFLEngineParams struct {
	fx.In

	Logger    *zap.Logger
	AppConfig *config.AppConfig
}

// NewAFLEngine returns nil when afl-fuzz is not installed.
func NewAFLEngine(params AFLEngineParams) *AFLEngine {
	logger := params.Logger.Named("aflpp")
	aflFuzz, err := exec.LookPath(params.AppConfig.Toolchain.AFLFuzz)
	if err != nil {
		logger.Warn("afl-fuzz not found, coverage-guided fuzzing disabled", zap.Error(err))
		return nil
	}

	return &AFLEngine{
		logger:    logger,
		aflFuzz:   aflFuzz,
		instances: max(params.AppConfig.CoreCount, 1),
	}
}

func (f *AFLEngine) Name() string {
	return "aflpp"
}

// Plan lays out one master and instances-1 workers sharing the sync root.
func (f *AFLEngine) Plan(layout corpus.Layout, target fuzz.Target, budget time.Duration) ([]fuzz.InstanceSpec, error) {
	if target.Binary == "" {
		return nil, fmt.Errorf("no fuzz target")
	}

	specs := make([]fuzz.InstanceSpec, 0, f.instances)
	for idx := range f.instances {
		instance := &AFLInstance{
			Name:       "master",
			Mode:       AFLMaster,
			InputDir:   layout.SeedDir(),
			OutputDir:  layout.SyncDir(),
			DictPath:   target.DictPath,
			Timeout:    DefaultExecTimeout,
			Harness:    target.Binary,
			StdinInput: target.StdinInput,
			Env:        masterAFLEnv(),
			logger:     f.logger,
		}
		if idx > 0 {
			instance.Name = fmt.Sprintf("worker_%d", idx)
			instance.Mode = AFLWorker
			instance.Env = defaultAFLEnv()
		}
		specs = append(specs, fuzz.InstanceSpec{
			ID:       instance.Name,
			Engine:   f.Name(),
			SpanName: "running AFL++",
			Cmd:      instance.Command(f.aflFuzz),
			Stats:    instance.Stats,
		})
	}
	return specs, nil
}

var AFLModule = fx.Options(
	fx.Provide(fx.Annotate(NewAFLEngine, fx.As(new(fuzz.Engine)), fx.ResultTags(`group:"engines"`))),
)
