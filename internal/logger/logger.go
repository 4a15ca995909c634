// Package logger builds the process logger handed down to every component;
// nothing in the tree logs through a global.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the logger for the given runtime environment. Production
// emits JSON with ISO8601 timestamps; anything else gets the readable
// development console encoder.
func New(env string) (*zap.SugaredLogger, error) {
	if env == "production" {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		l, err := cfg.Build()
		if err != nil {
			return nil, err
		}
		return l.Sugar(), nil
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
