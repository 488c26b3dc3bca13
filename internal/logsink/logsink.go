// Package logsink provides the append-only, human-readable log streams the
// monitors record samples, warnings and mitigation actions to.
package logsink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"codeberg.org/mutker/edgegov/internal/clock"
	"codeberg.org/mutker/edgegov/internal/errors"
	"github.com/rs/zerolog"
)

// TimeFormat is the timestamp layout leading every record.
const TimeFormat = "2006-01-02 15:04:05"

// Stream file names, one per monitor.
const (
	ResourceLog = "resource_monitor.log"
	GPULog      = "gpu_monitor.log"
	StatsLog    = "system_stats.log"
)

// Sink is one append-only log stream.
type Sink struct {
	log    zerolog.Logger
	clock  clock.Clock
	closer io.Closer
}

// Open appends to the file at path, creating it and its directory.
func Open(path string, clk clock.Clock) (*Sink, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errFactory.Wrap(errors.ErrOpenLogSink, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrOpenLogSink, fmt.Errorf("%s: %w", path, err))
	}

	s := New(f, clk)
	s.closer = f

	return s, nil
}

// New writes records to w.
func New(w io.Writer, clk clock.Clock) *Sink {
	if clk == nil {
		clk = clock.Real()
	}

	output := zerolog.ConsoleWriter{
		Out:     w,
		NoColor: true,
		FormatTimestamp: func(i interface{}) string {
			return fmt.Sprint(i)
		},
		FormatLevel: func(i interface{}) string {
			return levelName(fmt.Sprint(i))
		},
	}

	return &Sink{
		log:   zerolog.New(output).Level(zerolog.DebugLevel),
		clock: clk,
	}
}

func levelName(level string) string {
	switch level {
	case zerolog.WarnLevel.String():
		return "WARNING"
	case "<nil>", "":
		return "INFO"
	default:
		return strings.ToUpper(level)
	}
}

func (s *Sink) stamp(e *zerolog.Event) *zerolog.Event {
	return e.Str(zerolog.TimestampFieldName, s.clock.Now().Format(TimeFormat))
}

func (s *Sink) Info() *zerolog.Event { return s.stamp(s.log.Info()) }

func (s *Sink) Warn() *zerolog.Event { return s.stamp(s.log.Warn()) }

func (s *Sink) Error() *zerolog.Event { return s.stamp(s.log.Error()) }

// Block writes title followed by lines as a single record.
func (s *Sink) Block(title string, lines []string) {
	var b strings.Builder
	b.WriteString(title)
	for _, l := range lines {
		b.WriteString("\n  ")
		b.WriteString(l)
	}

	s.Info().Msg(b.String())
}

// Close releases the underlying file, if any.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}

	return s.closer.Close()
}
