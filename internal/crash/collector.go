package crash

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"codeguard/internal/corpus"
	"codeguard/internal/fuzz"
	"codeguard/internal/types"
	"codeguard/internal/utils"
	"codeguard/pkg/telemetry"

	"go.uber.org/zap"
)

// DirectEngine is the engine id of inputs that were not produced by an engine.
const DirectEngine = "direct"

type Collector struct {
	logger *zap.Logger
}

func NewCollector(logger *zap.Logger) *Collector {
	return &Collector{logger: logger.Named("crash")}
}

// Collect walks the crash directory of every launched handle, in launch
// order, then directory order. Byte-identical inputs are kept once, at their
// first position. Handles that never started contribute nothing.
func (c *Collector) Collect(ctx context.Context, layout corpus.Layout, handles []*fuzz.EngineHandle) ([]types.CrashInput, error) {
	tracer := telemetry.FromContext(ctx).Spawn("collecting crashes")
	tracer.Start()
	defer tracer.End()

	seen := make(map[string]struct{})
	var inputs []types.CrashInput
	for _, h := range handles {
		if err := context.Cause(ctx); err != nil {
			return inputs, err
		}
		if !h.Started {
			continue
		}
		found, err := c.collectDir(layout.CrashDir(h.ID), h.ID, seen)
		if err != nil {
			c.logger.Warn("failed to read crash folder", zap.String("instance", h.ID), zap.Error(err))
		}
		inputs = append(inputs, found...)
	}

	c.logger.Info("collected crash inputs", zap.Int("count", len(inputs)))
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.CollectStage).WithCrashCount(len(inputs)))
	return inputs, nil
}

// CollectFiles turns explicit files (direct mode seeds) into crash inputs,
// with the same deduplication as Collect.
func (c *Collector) CollectFiles(ctx context.Context, files []string) ([]types.CrashInput, error) {
	seen := make(map[string]struct{})
	var inputs []types.CrashInput
	for _, file := range files {
		if err := context.Cause(ctx); err != nil {
			return inputs, err
		}
		input, ok, err := newCrashInput(file, DirectEngine, seen)
		if err != nil {
			c.logger.Warn("skipping input", zap.String("crash_input", file), zap.Error(err))
			continue
		}
		if ok {
			inputs = append(inputs, input)
		}
	}
	return inputs, nil
}

func (c *Collector) collectDir(dir, engine string, seen map[string]struct{}) ([]types.CrashInput, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var inputs []types.CrashInput
	for _, e := range entries {
		if e.IsDir() || !IsCrashFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		input, ok, err := newCrashInput(path, engine, seen)
		if err != nil {
			c.logger.Warn("skipping crash file", zap.String("crash_input", path), zap.Error(err))
			continue
		}
		if ok {
			inputs = append(inputs, input)
		}
	}
	return inputs, nil
}

// IsCrashFile filters out the files engines keep next to their crashes.
func IsCrashFile(name string) bool {
	base := filepath.Base(name)
	return base != "README.txt" && !utils.IsHiddenOrTemp(base)
}

func newCrashInput(path, engine string, seen map[string]struct{}) (types.CrashInput, bool, error) {
	id, err := fileMD5(path)
	if err != nil {
		return types.CrashInput{}, false, err
	}
	if _, dup := seen[id]; dup {
		return types.CrashInput{}, false, nil
	}
	seen[id] = struct{}{}

	info, err := os.Stat(path)
	if err != nil {
		return types.CrashInput{}, false, err
	}
	return types.CrashInput{
		ID:           id,
		Engine:       engine,
		Path:         path,
		DiscoveredAt: info.ModTime(),
	}, true, nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
