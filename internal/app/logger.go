package app

import (
	"strings"

	"github.com/finbase/revrec/pkg/logger"
)

// ConfigureLogging initialises the global logger from the configured level.
// A blank level runs the service at info.
func ConfigureLogging(level string) error {
	if level = strings.TrimSpace(level); level == "" {
		level = "info"
	}
	return logger.Init(level)
}
