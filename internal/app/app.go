// Package app holds the dependency graph shared by the service and the CLI.
package app

import (
	"os/exec"

	"codeguard/config"
	"codeguard/internal/analysis"
	"codeguard/internal/archive"
	"codeguard/internal/builder"
	"codeguard/internal/corpus"
	"codeguard/internal/crash"
	"codeguard/internal/dict"
	"codeguard/internal/fuzz"
	"codeguard/internal/fuzz/aflpp"
	"codeguard/internal/fuzz/concolic"
	"codeguard/internal/service"
	"codeguard/internal/session"
	"codeguard/internal/triage"
	"codeguard/pkg/database"
	"codeguard/pkg/logger"
	"codeguard/pkg/mq"
	"codeguard/pkg/telemetry"
	"codeguard/pkg/watchdog"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Module provides everything needed to run analysis sessions.
var Module = fx.Options(
	fx.Provide(
		config.LoadConfig,           // inject config
		logger.NewLogger,            // inject logger
		telemetry.NewTelemetry,      // inject telemetry
		telemetry.NewTracerFactory,  // inject telemetry tracer factory
		database.NewDBConnection,    // inject findings db (nil when unset)
		database.NewRedisClient,     // inject redis client (nil when unset)
		mq.NewRabbitMQ,              // inject rabbitmq service (nil when unset)
		watchdog.NewWatchDogFactory, // inject watchdog factory
		builder.NewSanitizerCompiler,
		dict.NewDictGrabber,
		fuzz.NewSupervisor,
		crash.NewCollector,
		crash.NewMonitor,
		triage.NewPipeline,
		session.NewRegistry,
		analysis.NewRunner,
		service.NewAnalysisService,
		fx.Annotate(
			archive.NewRecorder,
			fx.As(new(session.Observer)),
			fx.ResultTags(`group:"observers"`),
		),
	),
	aflpp.AFLModule,             // inject AFL++ fuzzer module
	concolic.EclipserModule,     // inject Eclipser module
	corpus.CorpusGrabbersModule, // inject seed grabbers
	fx.Invoke(SetUpMmapRNDBits),
)

// SetUpMmapRNDBits lowers ASLR entropy so ASAN shadow memory maps reliably.
// It needs root and only logs when that fails.
func SetUpMmapRNDBits(logger *zap.Logger) {
	if err := exec.Command("sysctl", "-w", "vm.mmap_rnd_bits=28").Run(); err != nil {
		logger.Debug("Failed to set mmap_rnd_bits", zap.Error(err))
	} else {
		logger.Info("Successfully set mmap_rnd_bits to 28")
	}
}

// EventLogger routes fx events through zap at debug level.
func EventLogger(log *zap.Logger) fxevent.Logger {
	zlogger := fxevent.ZapLogger{Logger: log}
	zlogger.UseLogLevel(zap.DebugLevel)
	return &zlogger
}
