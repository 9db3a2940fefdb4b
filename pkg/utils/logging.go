package utils

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
)

// ParseLogLevel parses a level name such as "debug" or "WARN".
func ParseLogLevel(level string) (log.Level, error) {
	l, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return log.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
	return l, nil
}

// NewHandler returns a text or json handler writing to w.
func NewHandler(format string, w io.Writer) (log.Handler, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return text.New(w), nil
	case "json":
		return json.New(w), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}

// NewLogger builds a standalone logger.
func NewLogger(level, format string, w io.Writer) (*log.Logger, error) {
	l, err := ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	h, err := NewHandler(format, w)
	if err != nil {
		return nil, err
	}
	return &log.Logger{Handler: h, Level: l}, nil
}

// SetupLogging configures the global apex logger. When logFile is set logs
// go there, rolled over per rotation, and the returned closer closes it.
func SetupLogging(level, format, logFile string, rotation LogRotation) (io.Closer, error) {
	var out io.WriteCloser = nopCloser{os.Stderr}
	if logFile != "" {
		f, err := OpenRotatingFile(logFile, rotation)
		if err != nil {
			return nil, err
		}
		out = f
	}

	logger, err := NewLogger(level, format, out)
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	log.SetHandler(logger.Handler)
	log.SetLevel(logger.Level)
	return out, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// ParseBytes parses sizes such as "64MB", "128m" or "4096".
func ParseBytes(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "IB"), "B")

	multiplier := int64(1)
	if n := len(s); n > 0 {
		if i := strings.IndexByte("KMGTP", s[n-1]); i >= 0 {
			multiplier = int64(1) << (10 * (i + 1))
			s = s[:n-1]
		}
	}

	var num float64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &num); err != nil || num < 0 {
		return 0, fmt.Errorf("invalid size: %q", s)
	}
	return int64(num * float64(multiplier)), nil
}
