package logging

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	local_errors "github.com/RassulYunussov/ehttpchain/internal/errors"
)

// Policy decides how loud a call is logged and whether bodies are captured.
// All three functions are required.
type Policy struct {
	// LevelForResponse resolves the level of a call that produced a response,
	// elapsed lets slow calls be logged louder
	LevelForResponse func(r *http.Request, resp *http.Response, elapsed time.Duration) zerolog.Level
	// LevelForError resolves the level of a call that failed
	LevelForError func(r *http.Request, err error) zerolog.Level
	// CaptureBody tells whether headers and bodies are added to the record
	CaptureBody func(r *http.Request) bool
}

func (p *Policy) Validate() error {
	if p == nil {
		return local_errors.Configuration("logging policy is missing")
	}
	if p.LevelForResponse == nil {
		return local_errors.Configuration("logging policy has no LevelForResponse")
	}
	if p.LevelForError == nil {
		return local_errors.Configuration("logging policy has no LevelForError")
	}
	if p.CaptureBody == nil {
		return local_errors.Configuration("logging policy has no CaptureBody")
	}
	return nil
}

// DefaultPolicy logs responses at info, failures at warn and captures bodies
// only when the logger has debug enabled.
func DefaultPolicy(logger zerolog.Logger) Policy {
	return Policy{
		LevelForResponse: func(*http.Request, *http.Response, time.Duration) zerolog.Level { return zerolog.InfoLevel },
		LevelForError:    func(*http.Request, error) zerolog.Level { return zerolog.WarnLevel },
		CaptureBody:      CaptureWhenEnabled(logger, zerolog.DebugLevel),
	}
}

// CaptureWhenEnabled captures bodies whenever level is enabled on logger
func CaptureWhenEnabled(logger zerolog.Logger, level zerolog.Level) func(*http.Request) bool {
	return func(*http.Request) bool {
		return Enabled(logger, level)
	}
}

// Enabled reports whether an event of the given level would be written by logger
func Enabled(logger zerolog.Logger, level zerolog.Level) bool {
	if level == zerolog.Disabled {
		return false
	}
	return level >= logger.GetLevel() && level >= zerolog.GlobalLevel()
}

var DefaultRedactedHeaders = []string{"Authorization", "Proxy-Authorization", "Cookie", "Set-Cookie"}

const redactedValue = "***"

type LoggingParameters struct {
	Policy Policy
	// RedactHeaders lists headers whose values are masked in captured headers, nil means DefaultRedactedHeaders
	RedactHeaders []string
	// MaxBodyBytes truncates logged bodies, 0 logs them whole
	MaxBodyBytes int
}
