// Package concolic drives Eclipser as the concolic engine of a session.
package concolic

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"codeguard/config"
	"codeguard/internal/corpus"
	"codeguard/internal/fuzz"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const InstanceID = "eclipser"

type EclipserEngine struct {
	logger  *zap.Logger
	command []string
}

type EclipserEngineParams struct {
	fx.In

	Logger    *zap.Logger
	AppConfig *config.AppConfig
}

// NewEclipserEngine returns nil when the configured command cannot be found.
// CONCOLIC_CMD may carry a runtime prefix such as "dotnet /opt/Eclipser.dll".
func NewEclipserEngine(params EclipserEngineParams) *EclipserEngine {
	logger := params.Logger.Named("concolic")
	command := strings.Fields(params.AppConfig.Toolchain.ConcolicCmd)
	if len(command) == 0 {
		logger.Info("CONCOLIC_CMD is empty, concolic engine disabled")
		return nil
	}
	path, err := exec.LookPath(command[0])
	if err != nil {
		logger.Warn("concolic engine not found, disabled", zap.String("command", command[0]), zap.Error(err))
		return nil
	}
	command[0] = path
	for _, arg := range command[1:] {
		if strings.HasSuffix(arg, ".dll") {
			if _, err := os.Stat(arg); err != nil {
				logger.Warn("concolic engine assembly missing, disabled", zap.String("assembly", arg))
				return nil
			}
		}
	}

	return &EclipserEngine{logger: logger, command: command}
}

func (e *EclipserEngine) Name() string {
	return "concolic"
}

// Plan launches a single Eclipser instance writing AFL-compatible queue and
// crashes directories under <sync>/eclipser.
func (e *EclipserEngine) Plan(layout corpus.Layout, target fuzz.Target, budget time.Duration) ([]fuzz.InstanceSpec, error) {
	if target.Binary == "" {
		return nil, errors.New("no fuzz target")
	}
	outDir := layout.EngineDir(InstanceID)

	args := append([]string{}, e.command[1:]...)
	args = append(args, buildArgs(layout.SeedDir(), outDir, target, budget)...)

	cmd := exec.Command(e.command[0], args...)
	cmd.Env = os.Environ()

	return []fuzz.InstanceSpec{{
		ID:       InstanceID,
		Engine:   e.Name(),
		SpanName: "running concolic engine",
		Cmd:      cmd,
	}}, nil
}

// buildArgs follows `-i <seeds> -o <sync>/eclipser -p <target> ...`.
// In file mode Eclipser writes each input to a fixed path that is passed
// to the target as its argument.
func buildArgs(seedDir, outDir string, target fuzz.Target, budget time.Duration) []string {
	secs := max(int(budget/time.Second), 1)
	args := []string{
		"-i", seedDir,
		"-o", outDir,
		"-p", target.Binary,
		"-t", fmt.Sprintf("%d", secs),
		"-v", "0",
	}
	if target.StdinInput {
		return append(args, "-s", "stdin")
	}
	inputFile := filepath.Join(filepath.Dir(outDir), "."+InstanceID+".cur_input")
	return append(args, "-s", "file", "-f", inputFile, "--initarg", inputFile)
}

var EclipserModule = fx.Options(
	fx.Provide(fx.Annotate(NewEclipserEngine, fx.As(new(fuzz.Engine)), fx.ResultTags(`group:"engines"`))),
)
