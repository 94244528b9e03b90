// cgfuzz runs analysis sessions from the command line.
package main

import (
	"context"
	"errors"
	"os"

	"codeguard/config"
	"codeguard/internal/app"

	"github.com/jessevdk/go-flags"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
)

const (
	exitCompleted = 0
	exitFailed    = 1
	exitCancelled = 2
)

type globalOptions struct {
	WorkDir  string `short:"w" long:"work-dir" description:"directory for session workspaces"`
	Keep     bool   `short:"k" long:"keep" description:"keep build and fuzzing artifacts"`
	LogLevel string `short:"l" long:"log-level" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"log level"`
}

var global globalOptions

// exitCode is set by the command that ran.
var exitCode = exitCompleted

// overrides applies the global flags on top of the environment configuration.
func overrides(cfg *config.AppConfig) *config.AppConfig {
	if global.WorkDir != "" {
		cfg.WorkDir = global.WorkDir
	}
	if global.Keep {
		cfg.KeepArtifacts = true
	}
	if global.LogLevel != "" {
		cfg.LogLevel = global.LogLevel
	}
	return cfg
}

// startApp builds the dependency graph with extra options and starts it.
func startApp(ctx context.Context, opts ...fx.Option) (*fx.App, error) {
	fxApp := fx.New(
		app.Module,
		fx.Decorate(overrides),
		fx.Options(opts...),
		fx.WithLogger(app.EventLogger),
	)
	if err := fxApp.Err(); err != nil {
		return nil, err
	}
	if err := fxApp.Start(ctx); err != nil {
		return nil, err
	}
	return fxApp, nil
}

func main() {
	parser := flags.NewParser(&global, flags.Default)
	parser.AddCommand("run", "Analyze one source file",
		"Builds the sanitizer binaries, fuzzes the target, triages the crashes and prints the reports as JSON.",
		&runCommand{})
	parser.AddCommand("build", "Only build the sanitizer binaries",
		"Compiles one binary per sanitizer and prints the build results as JSON.",
		&buildCommand{})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		if exitCode == exitCompleted {
			exitCode = exitFailed
		}
	}
	os.Exit(exitCode)
}
