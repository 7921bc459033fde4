package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	LogLevelKey   = "log.level"
	LogFormatKey  = "log.format"
	LogNoColorKey = "log.no_color"
)

// InitDefault sets up a console logger before flags and config are parsed,
// so that early startup errors are still readable.
func InitDefault() {
	log.Logger = zerolog.New(consoleWriter(false)).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()
}

// Init configures the global logger from viper-backed settings.
func Init(overrideLevel *zerolog.Level) {
	level := zerolog.InfoLevel
	if overrideLevel != nil {
		level = *overrideLevel
	} else if l, err := zerolog.ParseLevel(strings.ToLower(viper.GetString(LogLevelKey))); err == nil && l != zerolog.NoLevel {
		level = l
	}

	var logger zerolog.Logger
	switch viper.GetString(LogFormatKey) {
	case "json":
		logger = zerolog.New(os.Stderr)
	default:
		logger = zerolog.New(consoleWriter(viper.GetBool(LogNoColorKey)))
	}

	log.Logger = logger.Level(level).With().Timestamp().Logger()
}

func consoleWriter(noColor bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
		NoColor:    noColor,
	}
}
