package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"codeguard/config"
	"codeguard/internal/builder"
	"codeguard/internal/types"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type buildCommand struct {
	Out string `short:"o" long:"out" default:"." description:"output directory for the binaries"`

	Args struct {
		Source string `positional-arg-name:"SOURCE" description:"C or C++ source file"`
	} `positional-args:"yes" required:"yes"`
}

type buildResult struct {
	types.SanitizerBinary
	Error string `json:"error,omitempty"`
}

func (c *buildCommand) Execute(args []string) error {
	if err := builder.ValidateSource(c.Args.Source); err != nil {
		return err
	}
	if err := os.MkdirAll(c.Out, 0755); err != nil {
		return err
	}

	var (
		compiler *builder.SanitizerCompiler
		cfg      *config.AppConfig
		logger   *zap.Logger
	)
	fxApp, err := startApp(context.Background(), fx.Populate(&compiler, &cfg, &logger))
	if err != nil {
		return err
	}
	defer fxApp.Stop(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	binaries := builder.BuildAll(ctx, compiler, logger, c.Args.Source, c.Out, compiler.Kinds(cfg.SanitizerKinds))
	results := make([]buildResult, 0, len(binaries))
	for _, b := range binaries {
		r := buildResult{SanitizerBinary: b}
		if b.Err != nil {
			r.Error = b.Err.Error()
		}
		results = append(results, r)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}
	if len(types.Usable(binaries)) == 0 {
		return fmt.Errorf("no sanitizer binary could be built")
	}
	return nil
}
