package config

import (
	"codeguard/internal/types"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type AppConfig struct {
	DatabaseURL        string
	RabbitMQURL        string
	RedisSentinelHosts string
	RedisMasterName    string
	RedisUrl           string
	LogLevel           string
	ServiceName        string
	TelemetryEnabled   bool
	ListenAddr         string

	WorkDir       string
	KeepArtifacts bool
	CoreCount     int

	Toolchain      ToolchainConfig
	SessionConfig  SessionConfig
	TriageConfig   TriageConfig
	SeedDir        string
	DictDir        string
	BuildProfile   string
	TargetInput    string // "file" or "stdin"
	SanitizerKinds []types.SanitizerKind
}

type ToolchainConfig struct {
	CC            string
	CXX           string
	AFLCC         string
	AFLCXX        string
	AFLFuzz       string
	ConcolicCmd   string
	TriageCmd     string
	EngineGrace   time.Duration
	CompileBudget time.Duration
}

type SessionConfig struct {
	FuzzBudget      time.Duration
	SessionTimeout  time.Duration
	RetentionWindow time.Duration
}

type TriageConfig struct {
	Parallelism int
	PairTimeout time.Duration
}

func LoadConfig() *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	godotenv.Load()

	config := &AppConfig{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		RedisSentinelHosts: os.Getenv("REDIS_SENTINEL_HOSTS"),
		RedisMasterName:    os.Getenv("REDIS_MASTER"),
		RedisUrl:           os.Getenv("OVERRIDE_REDIS_URL"), // optional, for local dev
		LogLevel:           os.Getenv("LOG_LEVEL"),
		ServiceName:        os.Getenv("SERVICE_NAME"),
		TelemetryEnabled:   parseBool(os.Getenv("TELEMETRY_ENABLED"), false),
		ListenAddr:         parseString(os.Getenv("LISTEN_ADDR"), ":8080"),
		WorkDir:            parseString(os.Getenv("WORK_DIR"), filepath.Join(os.TempDir(), "codeguard")),
		KeepArtifacts:      parseBool(os.Getenv("KEEP_ARTIFACTS"), false),
		CoreCount:          parseInt(os.Getenv("CORE_COUNT"), 4),
		Toolchain: ToolchainConfig{
			CC:            parseString(os.Getenv("CC"), "clang"),
			CXX:           parseString(os.Getenv("CXX"), "clang++"),
			AFLCC:         parseString(os.Getenv("AFL_CC"), "afl-clang-fast"),
			AFLCXX:        parseString(os.Getenv("AFL_CXX"), "afl-clang-fast++"),
			AFLFuzz:       parseString(os.Getenv("AFL_FUZZ"), "afl-fuzz"),
			ConcolicCmd:   parseString(os.Getenv("CONCOLIC_CMD"), "dotnet /opt/Eclipser/build/Eclipser.dll"),
			TriageCmd:     parseString(os.Getenv("TRIAGE_CMD"), "casr-san"),
			EngineGrace:   parseDuration(os.Getenv("ENGINE_GRACE"), 10*time.Second),
			CompileBudget: parseDuration(os.Getenv("COMPILE_TIMEOUT"), 2*time.Minute),
		},
		SessionConfig: SessionConfig{
			FuzzBudget:      parseDuration(os.Getenv("FUZZ_BUDGET"), 60*time.Second),
			SessionTimeout:  parseDuration(os.Getenv("SESSION_TIMEOUT"), 5*time.Minute),
			RetentionWindow: parseDuration(os.Getenv("RETENTION_WINDOW"), 10*time.Minute),
		},
		TriageConfig: TriageConfig{
			Parallelism: parseInt(os.Getenv("TRIAGE_PARALLELISM"), 4),
			PairTimeout: parseDuration(os.Getenv("TRIAGE_TIMEOUT"), 30*time.Second),
		},
		SeedDir:      os.Getenv("SEED_DIR"),
		DictDir:      os.Getenv("DICT_DIR"),
		BuildProfile: os.Getenv("BUILD_PROFILE"),
		TargetInput:  parseString(os.Getenv("TARGET_INPUT"), "file"),
	}

	if config.LogLevel == "" {
		config.LogLevel = "info" // Set default log level
	}
	if config.ServiceName == "" {
		config.ServiceName = "codeguard" // Default service name
	}
	if config.CoreCount < 1 {
		logger.Warn("CORE_COUNT must be positive, using 1", zap.Int("core_count", config.CoreCount))
		config.CoreCount = 1
	}
	if config.TriageConfig.Parallelism < 1 {
		config.TriageConfig.Parallelism = 1
	}
	if config.TargetInput != "file" && config.TargetInput != "stdin" {
		logger.Warn("unknown TARGET_INPUT, using file", zap.String("target_input", config.TargetInput))
		config.TargetInput = "file"
	}

	config.SanitizerKinds = parseSanitizers(os.Getenv("SANITIZERS"), logger)

	return config
}

// parseSanitizers keeps the order given by the user and drops unknown or repeated names.
func parseSanitizers(val string, logger *zap.Logger) []types.SanitizerKind {
	if strings.TrimSpace(val) == "" {
		return types.AllSanitizers()
	}
	seen := make(map[types.SanitizerKind]struct{})
	var kinds []types.SanitizerKind
	for _, name := range strings.Split(val, ",") {
		kind, err := types.ParseSanitizerKind(name)
		if err != nil {
			logger.Warn("ignoring sanitizer", zap.String("sanitizer", name), zap.Error(err))
			continue
		}
		if _, ok := seen[kind]; ok {
			continue
		}
		seen[kind] = struct{}{}
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		return types.AllSanitizers()
	}
	return kinds
}

func parseString(val string, defaultVal string) string {
	if val == "" {
		return defaultVal
	}
	return val
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func parseBool(val string, defaultVal bool) bool {
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
