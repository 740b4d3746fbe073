package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Init initializes the logging subsystem.
//
// The returned atomic level can be used to change verbosity at runtime.
func Init(cfg *Config) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if cfg.Encoding == "json" {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if cfg.Encoding != "json" && term.IsTerminal(int(os.Stderr.Fd())) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "console"
	}
	output := cfg.Output
	if len(output) == 0 {
		output = []string{"stderr"}
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level),
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      output,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger.Sugar(), config.Level, nil
}
