package logging

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/rollbar/rollbar-go"
)

// Logger is the leveled logger used across the service.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// StdLogger writes level-prefixed lines through the standard log package.
type StdLogger struct {
	l     *log.Logger
	debug bool
}

// New creates a logger writing to out. Debug lines are dropped unless debug is set.
func New(out io.Writer, debug bool) *StdLogger {
	if out == nil {
		out = os.Stderr
	}
	return &StdLogger{l: log.New(out, "", log.LstdFlags|log.Lmicroseconds), debug: debug}
}

// Nop returns a logger that discards everything.
func Nop() *StdLogger {
	return New(io.Discard, false)
}

func (s *StdLogger) Debugf(format string, args ...any) {
	if s.debug {
		s.l.Printf("DEBUG "+format, args...)
	}
}

func (s *StdLogger) Infof(format string, args ...any) {
	s.l.Printf("INFO "+format, args...)
}

func (s *StdLogger) Warnf(format string, args ...any) {
	s.l.Printf("WARN "+format, args...)
}

func (s *StdLogger) Errorf(format string, args ...any) {
	s.l.Printf("ERROR "+format, args...)
}

// Rollbar forwards warnings and errors to Rollbar in addition to the wrapped logger.
type Rollbar struct {
	Logger
}

// WithRollbar configures the global Rollbar notifier and wraps base. An empty
// token returns base unchanged.
func WithRollbar(base Logger, token, env, version string) Logger {
	if token == "" {
		return base
	}
	rollbar.SetToken(token)
	rollbar.SetEnvironment(env)
	rollbar.SetCodeVersion(version)
	if host, err := os.Hostname(); err == nil {
		rollbar.SetServerHost(host)
	}
	return &Rollbar{Logger: base}
}

func (r *Rollbar) Warnf(format string, args ...any) {
	r.Logger.Warnf(format, args...)
	rollbar.Warning(fmt.Sprintf(format, args...))
}

func (r *Rollbar) Errorf(format string, args ...any) {
	r.Logger.Errorf(format, args...)
	rollbar.Error(fmt.Errorf(format, args...))
}

// Flush waits for queued Rollbar items to be sent.
func Flush() {
	rollbar.Wait()
}
