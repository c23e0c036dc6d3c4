package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// NewLogger returns a JSON slog logger. When file is set, records are
// appended there as JSON lines; quiet suppresses the stdout copy.
func NewLogger(level, file string, quiet bool) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if strings.TrimSpace(file) != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		closer = f
		if quiet {
			w = f
		} else {
			w = io.MultiWriter(os.Stdout, f)
		}
	} else if quiet {
		w = io.Discard
	}
	return slog.New(NewHandler(w, level)).With("component", "trustroom"), closer, nil
}

// NewHandler builds the redacting JSON handler used by NewLogger.
func NewHandler(w io.Writer, level string) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			if shouldRedactKey(a.Key) {
				return slog.String(a.Key, "[REDACTED]")
			}
			if a.Value.Kind() == slog.KindString {
				if redacted, ok := redactStringValue(a.Value.String()); ok {
					return slog.String(a.Key, redacted)
				}
			}
			return a
		},
	})
}

func shouldRedactKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, token := range []string{"token", "secret", "password", "authorization", "system_key", "systemkey", "bearer", "phone", "email"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

var (
	jwtPattern   = regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
	phonePattern = regexp.MustCompile(`\b09\d{8}\b`)
)

func redactStringValue(v string) (string, bool) {
	lower := strings.ToLower(v)
	if strings.Contains(lower, "bearer ") || strings.Contains(lower, "authorization:") || strings.Contains(lower, "x-system-key") {
		return "[REDACTED]", true
	}
	redacted := jwtPattern.ReplaceAllString(v, "[REDACTED_JWT]")
	redacted = phonePattern.ReplaceAllString(redacted, "[REDACTED_PHONE]")
	return redacted, redacted != v
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
