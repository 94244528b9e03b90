package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"codeguard/config"
	"codeguard/internal/proc"
	"codeguard/internal/types"
	"codeguard/pkg/telemetry"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrUnsupportedSource = errors.New("unsupported source file")
	ErrNoCompiler        = errors.New("compiler not found")
)

// Compiler produces exactly one binary instrumented for exactly one sanitizer.
// A failed build is the caller's per-sanitizer failure; nothing else is affected.
type Compiler interface {
	Compile(ctx context.Context, sourcePath, outputPath string, kind types.SanitizerKind) error
	BuildFuzzTarget(ctx context.Context, sourcePath, outputPath, autoDictPath string) error
}

type SanitizerCompiler struct {
	logger    *zap.Logger
	toolchain config.ToolchainConfig
	profile   *BuildProfile
}

type SanitizerCompilerParams struct {
	fx.In

	Config *config.AppConfig
	Logger *zap.Logger
}

func NewSanitizerCompiler(p SanitizerCompilerParams) *SanitizerCompiler {
	logger := p.Logger.Named("builder")

	var profile *BuildProfile
	if p.Config.BuildProfile != "" {
		loaded, err := LoadBuildProfile(p.Config.BuildProfile)
		if err != nil {
			logger.Warn("Ignoring build profile", zap.String("path", p.Config.BuildProfile), zap.Error(err))
		} else {
			profile = loaded
		}
	}

	return &SanitizerCompiler{
		logger:    logger,
		toolchain: p.Config.Toolchain,
		profile:   profile,
	}
}

// Kinds applies the build profile's sanitizer list, if any, over defaults.
func (c *SanitizerCompiler) Kinds(defaults []types.SanitizerKind) []types.SanitizerKind {
	kinds, err := c.profile.sanitizerKinds(defaults)
	if err != nil {
		c.logger.Warn("Invalid sanitizer in build profile, using defaults", zap.Error(err))
	}
	return kinds
}

func (c *SanitizerCompiler) Compile(ctx context.Context, sourcePath, outputPath string, kind types.SanitizerKind) error {
	if err := ValidateSource(sourcePath); err != nil {
		return err
	}
	flags, err := SanitizerFlags(kind)
	if err != nil {
		return err
	}
	lang, _ := sourceLanguage(sourcePath)
	compiler := c.toolchain.CC
	if lang == langCXX {
		compiler = c.toolchain.CXX
	}

	args := c.args(flags, sourcePath, outputPath)
	return c.run(ctx, compiler, args, nil)
}

// BuildFuzzTarget compiles the engine-facing binary with the AFL++ wrapper.
// When autoDictPath is set, AFL++ writes the tokens it sees at compile time there.
func (c *SanitizerCompiler) BuildFuzzTarget(ctx context.Context, sourcePath, outputPath, autoDictPath string) error {
	if err := ValidateSource(sourcePath); err != nil {
		return err
	}
	lang, _ := sourceLanguage(sourcePath)
	compiler := c.toolchain.AFLCC
	if lang == langCXX {
		compiler = c.toolchain.AFLCXX
	}

	env := map[string]string{
		"AFL_USE_ASAN": "1",
		"AFL_QUIET":    "1",
	}
	if autoDictPath != "" {
		env["AFL_LLVM_DICT2FILE"] = autoDictPath
		env["AFL_LLVM_DICT2FILE_NO_MAIN"] = "1"
	}

	args := c.args(fuzzTargetFlags(), sourcePath, outputPath)
	return c.run(ctx, compiler, args, env)
}

func (c *SanitizerCompiler) args(flags []string, sourcePath, outputPath string) []string {
	args := make([]string, 0, len(flags)+8)
	args = append(args, flags...)
	args = append(args, c.profile.compileArgs()...)
	args = append(args, "-o", outputPath, sourcePath)
	args = append(args, c.profile.linkArgs()...)
	return args
}

// run invokes the compiler. compiler may carry leading arguments ("ccache clang").
func (c *SanitizerCompiler) run(ctx context.Context, compiler string, args []string, env map[string]string) error {
	fields := strings.Fields(compiler)
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty compiler command", ErrNoCompiler)
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNoCompiler, fields[0])
	}

	if c.toolchain.CompileBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.toolchain.CompileBudget)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.Command(path, append(fields[1:], args...)...)
	cmd.Env = withEnv(filterOtelEnv(os.Environ()), env)
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	c.logger.Debug("Running compiler", zap.String("command", cmd.String()))
	if err := proc.Run(ctx, cmd, c.toolchain.EngineGrace); err != nil {
		return fmt.Errorf("%s failed: %w: %s", filepath.Base(path), err, tail(stderr.String(), 2048))
	}
	return nil
}

// BuildAll compiles one binary per kind into outDir, one after another.
// The result keeps every kind in order; failed builds carry their error.
func BuildAll(ctx context.Context, c Compiler, logger *zap.Logger, sourcePath, outDir string, kinds []types.SanitizerKind) []types.SanitizerBinary {
	tracer := telemetry.FromContext(ctx)
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))

	binaries := make([]types.SanitizerBinary, 0, len(kinds))
	for _, kind := range kinds {
		bin := types.SanitizerBinary{
			Kind: kind,
			Path: filepath.Join(outDir, fmt.Sprintf("%s_%s", stem, kind)),
		}

		if err := context.Cause(ctx); err != nil {
			bin.Status = types.BuildFailed
			bin.Err = err
			binaries = append(binaries, bin)
			continue
		}

		span := tracer.Spawn(fmt.Sprintf("compiling with %s sanitizer", kind)).
			WithAttributes(telemetry.NewSpanAttributes(telemetry.BuildStage).WithSanitizer(kind.String()))
		span.Start()

		started := time.Now()
		err := c.Compile(ctx, sourcePath, bin.Path, kind)
		if err != nil {
			bin.Status = types.BuildFailed
			bin.Err = err
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("Sanitizer build failed, continuing without it",
				zap.String("sanitizer", kind.String()),
				zap.Error(err))
		} else {
			bin.Status = types.BuildSucceeded
			span.SetStatus(codes.Ok, "compiled")
			logger.Info("Sanitizer build succeeded",
				zap.String("sanitizer", kind.String()),
				zap.String("binary", bin.Path),
				zap.Duration("took", time.Since(started)))
		}
		span.End()
		binaries = append(binaries, bin)
	}
	return binaries
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
