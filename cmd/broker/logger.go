package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logEncodingJSON = "json"

// buildZapLogger returns a JSON logger with severity and timestamp keys for
// log collectors, or a colored console logger for everything else.
func buildZapLogger(encoding string) (*zap.Logger, error) {
	var config zap.Config

	switch encoding {
	case logEncodingJSON:
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.MessageKey = "message"
		config.EncoderConfig.LevelKey = "severity"
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.NameKey = "logger"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		config.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	default:
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return config.Build(
		zap.Fields(zap.String("service", serviceName)),
	)
}
