package setup

import (
	"log/slog"

	"github.com/cochaviz/boxes/internal/logging"
)

var packageLogger *slog.Logger

// SetLogger configures the package logger used for setup operations. Nil
// restores the process default.
func SetLogger(logger *slog.Logger) {
	packageLogger = logger
}

func getLogger() *slog.Logger {
	return logging.Ensure(packageLogger).With("component", "setup")
}
