package logger

// Logger defines the interface for logging operations. Pipeline
// components take a Logger so tests can pass Nop().
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err error) *LogEvent
	With(component string) Logger
}

