package core

// Logger reports messages to the configured sinks.
// args may carry an error, a map[string]interface{} of extras and the logged-in Actor.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
