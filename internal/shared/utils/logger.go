package utils

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// InitLogger initializes the global logger for the client commands
// verbose: if true, shows debug level logs; if false, shows warnings and above
func InitLogger(verbose bool) error {
	var config zap.Config

	if verbose {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}

	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	var err error
	logger, err = config.Build()
	return err
}

// InitServiceLogger initializes the logger for the background service.
// The service runs detached, so output goes to logPath when set.
func InitServiceLogger(debug bool, logPath string) error {
	var config zap.Config

	if debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	output := "stdout"
	if logPath != "" {
		output = logPath
	}
	config.OutputPaths = []string{output}
	config.ErrorOutputPaths = []string{output}

	var err error
	logger, err = config.Build()
	if err != nil {
		return err
	}
	logger = logger.With(zap.Int("pid", os.Getpid()))
	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// Sync flushes any buffered log entries
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
