package crash

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"codeguard/internal/corpus"
	"codeguard/internal/types"
	"codeguard/pkg/telemetry"
	"codeguard/pkg/watchdog"

	"go.uber.org/zap"
)

// Monitor counts crash files while engines are still running. It only feeds
// live status; the authoritative crash set comes from Collector afterwards.
type Monitor struct {
	logger      *zap.Logger
	watchDogFac *watchdog.WatchDogFactory
	interval    time.Duration
}

func NewMonitor(logger *zap.Logger, watchDogFac *watchdog.WatchDogFactory) *Monitor {
	return &Monitor{
		logger:      logger.Named("crash-monitor"),
		watchDogFac: watchDogFac,
		interval:    2 * time.Second,
	}
}

// Watch reports every new crash file under <sync>/*/crashes to onCrash until
// ctx is done. The returned channel is closed once the monitor has stopped.
func (m *Monitor) Watch(ctx context.Context, layout corpus.Layout, onCrash func(types.CrashMessage)) <-chan struct{} {
	stopped := make(chan struct{})

	notify := make(chan string, 1024)
	wd, err := m.watchDogFac.New(ctx, notify, IsCrashFile)
	if err != nil {
		m.logger.Warn("live crash monitoring disabled", zap.Error(err))
		close(stopped)
		return stopped
	}

	go m.addCrashDirs(ctx, wd, layout)
	go func() {
		defer close(stopped)
		m.forward(ctx, notify, onCrash)
		<-wd.Done()
	}()
	return stopped
}

// addCrashDirs polls for crash folders since engines create them lazily.
func (m *Monitor) addCrashDirs(ctx context.Context, wd *watchdog.WatchDog, layout corpus.Layout) {
	crashGlob := filepath.Join(layout.SyncDir(), "*", "crashes")
	watched := make(map[string]struct{})

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		matches, err := filepath.Glob(crashGlob)
		if err != nil {
			m.logger.Error("failed to glob crash folder", zap.Error(err))
		}
		for _, crashDir := range matches {
			if _, ok := watched[crashDir]; ok {
				continue
			}
			if err := wd.AddDir(crashDir); err != nil {
				m.logger.Debug("crash folder not watchable yet", zap.String("crash_dir", crashDir), zap.Error(err))
				continue
			}
			watched[crashDir] = struct{}{}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) forward(ctx context.Context, notify <-chan string, onCrash func(types.CrashMessage)) {
	tracer := telemetry.FromContext(ctx)
	var count atomic.Int64
	for crashFile := range notify {
		msg := types.CrashMessage{
			CrashFile: crashFile,
			Engine:    filepath.Base(filepath.Dir(filepath.Dir(crashFile))),
			SeenAt:    time.Now(),
		}
		if count.Add(1) == 1 {
			tracer.AddEvent("first_crash_found",
				telemetry.NewEventAttributes(map[string]string{
					"crash_name": filepath.Base(crashFile),
					"engine":     msg.Engine,
				}))
		}
		if onCrash != nil {
			onCrash(msg)
		}
	}
}
