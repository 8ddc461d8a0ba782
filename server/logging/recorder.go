package logging

import "sync"

// Entry is a single log line captured by a Recorder.
type Entry struct {
	Level         string
	Message       string
	KeyValuePairs []interface{}
}

// Recorder keeps log entries in memory. It is used by tests to assert on reported failures.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) record(level, message string, keyValuePairs []interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Message: message, KeyValuePairs: keyValuePairs})
}

func (r *Recorder) Debug(message string, keyValuePairs ...interface{}) {
	r.record("debug", message, keyValuePairs)
}

func (r *Recorder) Info(message string, keyValuePairs ...interface{}) {
	r.record("info", message, keyValuePairs)
}

func (r *Recorder) Warn(message string, keyValuePairs ...interface{}) {
	r.record("warn", message, keyValuePairs)
}

func (r *Recorder) Error(message string, keyValuePairs ...interface{}) {
	r.record("error", message, keyValuePairs)
}

// Entries returns a copy of the captured entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Count returns how many entries were logged at level with the given message.
func (r *Recorder) Count(level, message string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Level == level && e.Message == message {
			n++
		}
	}
	return n
}
