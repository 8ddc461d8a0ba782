package logging

// Logger is the key/value logging surface shared by the alert packages.
// *pluginapi.LogService satisfies it, and so does the LeveledLogger expected by go-retryablehttp.
type Logger interface {
	Debug(message string, keyValuePairs ...interface{})
	Info(message string, keyValuePairs ...interface{})
	Warn(message string, keyValuePairs ...interface{})
	Error(message string, keyValuePairs ...interface{})
}

// Nop discards all log output.
type Nop struct{}

func (Nop) Debug(string, ...interface{}) {}
func (Nop) Info(string, ...interface{})  {}
func (Nop) Warn(string, ...interface{})  {}
func (Nop) Error(string, ...interface{}) {}
