// Package logging provides zap logger helpers for the runner service.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// serviceName tags every log line so runner entries are separable from the
// upstream API's in a shared sink.
const serviceName = "browser-runner"

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.InitialFields = map[string]any{"service": serviceName}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// ForTask returns a child logger carrying the identity fields every
// per-message log line must have.
func ForTask(base *zap.Logger, messageID, projectID, flowID, taskType string) *zap.Logger {
	return base.With(
		zap.String("message_id", messageID),
		zap.String("project_id", projectID),
		zap.String("flow_id", flowID),
		zap.String("type", taskType),
	)
}
