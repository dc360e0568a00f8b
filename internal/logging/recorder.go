package logging

import "sync"

// Entry is a single captured log call.
type Entry struct {
	Level  Level
	Msg    string
	Fields []Field
}

// Value returns the value of the named field and whether it was present.
func (e Entry) Value(key string) (any, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Recorder is a Logger that keeps every entry in memory. Loggers derived
// with With share the parent's entry list.
type Recorder struct {
	sink   *recorderSink
	fields []Field
}

type recorderSink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{sink: &recorderSink{}}
}

func (r *Recorder) Debug(msg string, fields ...Field) { r.record(Debug, msg, fields) }
func (r *Recorder) Info(msg string, fields ...Field)  { r.record(Info, msg, fields) }
func (r *Recorder) Warn(msg string, fields ...Field)  { r.record(Warn, msg, fields) }
func (r *Recorder) Error(msg string, fields ...Field) { r.record(Error, msg, fields) }

func (r *Recorder) With(fields ...Field) Logger {
	combined := append(append([]Field{}, r.fields...), fields...)
	return &Recorder{sink: r.sink, fields: combined}
}

func (r *Recorder) record(level Level, msg string, fields []Field) {
	all := append(append([]Field{}, r.fields...), fields...)
	r.sink.mu.Lock()
	r.sink.entries = append(r.sink.entries, Entry{Level: level, Msg: msg, Fields: all})
	r.sink.mu.Unlock()
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	out := make([]Entry, len(r.sink.entries))
	copy(out, r.sink.entries)
	return out
}

// Count returns how many entries were recorded at the given level.
func (r *Recorder) Count(level Level) int {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	n := 0
	for _, e := range r.sink.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}
