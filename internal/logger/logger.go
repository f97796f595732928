package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// ServiceName tags every entry so shared log pipelines can tell services apart.
const ServiceName = "exstem-session"

// Setup builds the process logger on stdout.
//   - level: trace, debug, info, warn, error, fatal, panic (default info)
//   - format: "json", "pretty", or "auto" (pretty only when stdout is a terminal)
func Setup(level, format string) zerolog.Logger {
	return New(os.Stdout, level, format)
}

// New builds a logger over out. The level applies to this logger only; the
// zerolog global level is left alone.
func New(out io.Writer, level, format string) zerolog.Logger {
	writer := out
	if usePretty(out, format) {
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(writer).
		Level(lvl).
		With().
		Timestamp().
		Str("service", ServiceName).
		Caller().
		Logger()
}

func usePretty(out io.Writer, format string) bool {
	switch format {
	case "pretty":
		return true
	case "auto":
		f, ok := out.(*os.File)
		return ok && term.IsTerminal(int(f.Fd()))
	default:
		return false
	}
}
