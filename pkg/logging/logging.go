// Package logging builds the process logger and scrubs secrets before they
// reach log output.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds the root zap logger for the given environment. "local" gets the
// human-readable development encoder; everything else logs structured JSON.
func New(env string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
