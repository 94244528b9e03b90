package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeguard/internal/analysis"
	"codeguard/internal/service"
	"codeguard/internal/session"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type runCommand struct {
	Mode   string        `short:"m" long:"mode" default:"fuzz" choice:"fuzz" choice:"direct" description:"fuzz the target or only triage the seeds"`
	Budget time.Duration `short:"b" long:"budget" description:"fuzzing budget, e.g. 90s"`
	Seeds  []string      `short:"s" long:"seed" description:"seed input file, may be repeated"`

	Args struct {
		Source string `positional-arg-name:"SOURCE" description:"C or C++ source file"`
	} `positional-args:"yes" required:"yes"`
}

func (c *runCommand) request() (analysis.Request, error) {
	mode, err := analysis.ParseMode(c.Mode)
	if err != nil {
		return analysis.Request{}, err
	}
	req := analysis.Request{Path: c.Args.Source, Mode: mode, FuzzBudget: c.Budget}
	for _, path := range c.Seeds {
		seed, err := os.ReadFile(path)
		if err != nil {
			return analysis.Request{}, fmt.Errorf("failed to read seed: %w", err)
		}
		req.Seeds = append(req.Seeds, seed)
	}
	return req, nil
}

func (c *runCommand) Execute(args []string) error {
	req, err := c.request()
	if err != nil {
		return err
	}

	var (
		svc    *service.AnalysisService
		logger *zap.Logger
	)
	fxApp, err := startApp(context.Background(), fx.Populate(&svc, &logger))
	if err != nil {
		return err
	}
	defer fxApp.Stop(context.Background())

	id, err := svc.Start(req)
	if err != nil {
		return err
	}
	logger.Info("session started", zap.String("session_id", id), zap.String("source", req.Path))

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		if svc.Cancel(id) {
			logger.Info("session cancelled", zap.String("session_id", id))
		}
	}()

	status, err := svc.Wait(context.Background(), id)
	if err != nil {
		return err
	}

	exitCode = exitCodeFor(status.State)
	if status.State != session.Completed {
		return fmt.Errorf("session %s: %s", status.State, status.Error)
	}

	reports, err := svc.Result(id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func exitCodeFor(state session.State) int {
	switch state {
	case session.Completed:
		return exitCompleted
	case session.Cancelled:
		return exitCancelled
	}
	return exitFailed
}
