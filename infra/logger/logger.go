package logger

import corelogger "github.com/aeternum-health/dispatch/core/logger"

type (
	Logger    = corelogger.Logger
	NopLogger = corelogger.NopLogger
)

// New returns a zerolog-backed Logger tagged with component. Output follows
// the last Setup call.
func New(component string) Logger {
	return NewZerologLogger(component)
}
