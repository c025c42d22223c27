// pkg/logger/logger.go
package logger

import (
	"go.uber.org/zap"
)

type Sugared = *zap.SugaredLogger

func New(env string) Sugared {
	var z *zap.Logger
	switch env {
	case "prod":
		z, _ = zap.NewProduction()
	case "test":
		z = zap.NewNop()
	default:
		z, _ = zap.NewDevelopment()
	}
	return z.Sugar()
}

// Nop is a discarding logger for tests and optional wiring.
func Nop() Sugared { return zap.NewNop().Sugar() }
