// Package main is the entry point for the snapshot-relay receiver.
package main

import (
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/relaykit/snapshot-relay/cmd/snapshot-relay/app"
	"github.com/relaykit/snapshot-relay/internal/config"
)

// getLogLevel parses the RELAY_LOG_LEVEL environment variable and
// returns the corresponding zap level. Defaults to info if unset or
// invalid.
func getLogLevel() zapcore.Level {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	switch strings.ToLower(v.GetString("LOG_LEVEL")) {
	case "debug":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// buildLogger constructs the process-wide logger. Logs go to stderr as
// JSON to keep stdout clean for commands that output data (e.g.
// version --format json).
func buildLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(getLogLevel())
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func main() {
	logger, err := buildLogger()
	if err != nil {
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
