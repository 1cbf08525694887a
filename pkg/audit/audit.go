package audit

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guardline/promptsentry/pkg/event"
)

// Record is the audit payload emitted for every processed prompt. It carries
// only log-safe data: pattern names, scores, lengths, and a fingerprint,
// never prompt text.
type Record struct {
	Timestamp   time.Time              `json:"ts"`
	SessionID   string                 `json:"sid"`
	RequestID   string                 `json:"rid"`
	UserAgent   string                 `json:"ua"`
	SourceIP    string                 `json:"ip"`
	Patterns    []string               `json:"patterns"`
	Score       float64                `json:"score"`
	Severity    event.SecuritySeverity `json:"sev"`
	Action      event.SecurityAction   `json:"action"`
	InputLength int                    `json:"len"`
	Fingerprint string                 `json:"sha8"`
	DurationMS  int64                  `json:"ms"`
	// Constrained reports whether a policy wrapper was attached, Sanitized
	// whether neutralization changed the text.
	Constrained bool `json:"constrained"`
	Sanitized   bool `json:"sanitized"`
}

// Fields renders the record as logrus fields. The key set is fixed; sinks
// and downstream parsers rely on exactly these names.
func (r *Record) Fields() logrus.Fields {
	return logrus.Fields{
		"ts":          r.Timestamp.UTC().Format(time.RFC3339Nano),
		"sid":         r.SessionID,
		"rid":         r.RequestID,
		"ua":          r.UserAgent,
		"ip":          r.SourceIP,
		"patterns":    r.Patterns,
		"score":       r.Score,
		"sev":         r.Severity,
		"action":      r.Action,
		"len":         r.InputLength,
		"sha8":        r.Fingerprint,
		"ms":          r.DurationMS,
		"constrained": r.Constrained,
		"sanitized":   r.Sanitized,
	}
}

// Logger is an audit sink.
type Logger interface {
	Log(r *Record)
}

// LogrusLogger writes audit records through a logrus logger, mapping the
// taken action to a level: allow is routine (debug), block is an error,
// warn is info when sanitization changed the text and warning otherwise.
type LogrusLogger struct {
	logger *logrus.Logger
}

// NewLogrusLogger creates a sink over the given logger. A nil logger uses
// the standard one.
func NewLogrusLogger(logger *logrus.Logger) *LogrusLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusLogger{logger: logger}
}

func (l *LogrusLogger) Log(r *Record) {
	entry := l.logger.WithFields(r.Fields())
	switch r.Action {
	case event.ActionBlock:
		entry.Error("Prompt blocked")
	case event.ActionWarn:
		if r.Sanitized {
			entry.Info("Prompt sanitized")
		} else {
			entry.Warning("Prompt flagged")
		}
	default:
		entry.Debug("Prompt allowed")
	}
}

// JSONLWriter appends one JSON object per record to an io.Writer.
// Writes are serialized; failures are logged, never surfaced.
type JSONLWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{w: w}
}

func (j *JSONLWriter) Log(r *Record) {
	data, err := json.Marshal(r)
	if err != nil {
		logrus.WithError(err).Warn("Failed to marshal audit record")
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.w.Write(append(data, '\n')); err != nil {
		logrus.WithError(err).Warn("Failed to write audit record")
	}
}

// MultiLogger fans a record out to several sinks in order.
type MultiLogger []Logger

func (m MultiLogger) Log(r *Record) {
	for _, l := range m {
		l.Log(r)
	}
}
