// Package logging constructs the framework's structured logger.
package logging

import (
	"go.uber.org/zap"

	"github.com/loomkit/loom/framework/config"
)

// New builds a zap logger matched to the app environment: a human-readable
// development logger when debugging locally, the JSON production encoder
// otherwise.
func New(cfg *config.Config) (*zap.Logger, error) {
	if cfg.App.Debug && cfg.App.Env != "production" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// NewNop returns a no-op logger for tests.
func NewNop() *zap.Logger { return zap.NewNop() }
