// Package logging configures the process-wide slog logger for the CLI.
package logging

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// Supported handler formats.
const (
	JSON = "json"
	Text = "text"
	Tint = "tint"
)

// Setup installs the default slog logger with the requested handler format
// and level.
func Setup(format, levelName string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return fmt.Errorf("could not parse log level: %w", err)
	}

	var handler slog.Handler
	switch format {
	case JSON:
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	case Text:
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	case Tint:
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level})
	default:
		return fmt.Errorf("unknown log format: %s", format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}
