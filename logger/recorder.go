package logger

import "sync"

// Record is one log call captured by a Recorder. Args holds the logger's With attributes
// followed by the call's key-value pairs.
type Record struct {
	Level LogLevel
	Msg   string
	Args  []any
}

// Recorder is a Logger that keeps records in memory, for asserting on logs in tests.
// Fatal is recorded but does not exit. Loggers derived with With share the records and
// the level of their parent.
type Recorder struct {
	sink  *recordSink
	attrs []any
}

type recordSink struct {
	mu      sync.Mutex
	level   LogLevel
	records []Record
}

var _ Logger = (*Recorder)(nil)

// NewRecorder creates a Recorder that keeps records at level or above.
func NewRecorder(level LogLevel) *Recorder {
	return &Recorder{sink: &recordSink{level: level}}
}

func (r *Recorder) log(level LogLevel, msg string, keysAndValues []any) {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()

	if level < r.sink.level {
		return
	}

	args := make([]any, 0, len(r.attrs)+len(keysAndValues))
	args = append(args, r.attrs...)
	args = append(args, keysAndValues...)
	r.sink.records = append(r.sink.records, Record{Level: level, Msg: msg, Args: args})
}

func (r *Recorder) Debug(msg string, keysAndValues ...any) { r.log(DebugLevel, msg, keysAndValues) }
func (r *Recorder) Info(msg string, keysAndValues ...any)  { r.log(InfoLevel, msg, keysAndValues) }
func (r *Recorder) Warn(msg string, keysAndValues ...any)  { r.log(WarnLevel, msg, keysAndValues) }
func (r *Recorder) Error(msg string, keysAndValues ...any) { r.log(ErrorLevel, msg, keysAndValues) }
func (r *Recorder) Fatal(msg string, keysAndValues ...any) { r.log(FatalLevel, msg, keysAndValues) }

func (r *Recorder) SetLevel(level LogLevel) {
	r.sink.mu.Lock()
	r.sink.level = level
	r.sink.mu.Unlock()
}

func (r *Recorder) Level() LogLevel {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()

	return r.sink.level
}

func (r *Recorder) With(keyValues ...any) Logger {
	attrs := make([]any, 0, len(r.attrs)+len(keyValues))
	attrs = append(attrs, r.attrs...)
	attrs = append(attrs, keyValues...)

	return &Recorder{sink: r.sink, attrs: attrs}
}

// Records returns a copy of the captured records.
func (r *Recorder) Records() []Record {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()

	return append([]Record(nil), r.sink.records...)
}

// Has reports whether a record with msg was captured.
func (r *Recorder) Has(msg string) bool {
	for _, rec := range r.Records() {
		if rec.Msg == msg {
			return true
		}
	}

	return false
}
