package event

import (
	"time"

	"github.com/sirupsen/logrus"
)

// MaxAlertPatterns caps the pattern list carried in any emitted payload.
const MaxAlertPatterns = 8

// SecurityAlertEvent is published when a prompt is blocked or a
// high-severity detection fires. It carries only log-safe fields: pattern
// names, scores, and a short content fingerprint, never raw prompt text.
type SecurityAlertEvent struct {
	Timestamp        time.Time        `json:"timestamp"`
	SessionID        string           `json:"session_id,omitempty"`
	RequestID        string           `json:"request_id,omitempty"`
	SourceIP         string           `json:"source_ip,omitempty"`
	Severity         SecuritySeverity `json:"severity"`
	Score            float64          `json:"score"`
	DetectedPatterns []string         `json:"detected_patterns"`
	InjectionType    InjectionType    `json:"injection_type"`
	ActionTaken      SecurityAction   `json:"action_taken"`
	InputFingerprint string           `json:"input_fingerprint"`
	Details          string           `json:"details,omitempty"`
}

func (e *SecurityAlertEvent) Type() EventType {
	return EventTypeSecurityAlert
}

func (e *SecurityAlertEvent) LogFields() logrus.Fields {
	return logrus.Fields{
		"severity":       e.Severity,
		"score":          e.Score,
		"injection_type": e.InjectionType,
		"action":         e.ActionTaken,
		"sid":            e.SessionID,
		"sha8":           e.InputFingerprint,
	}
}

// CapPatterns returns at most MaxAlertPatterns entries, preserving order.
func CapPatterns(patterns []string) []string {
	if len(patterns) <= MaxAlertPatterns {
		return patterns
	}
	return patterns[:MaxAlertPatterns]
}

// SessionTerminatedEvent is published when a session is removed after a
// block verdict.
type SessionTerminatedEvent struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason,omitempty"`
}

func (e *SessionTerminatedEvent) Type() EventType {
	return EventTypeSessionTerminated
}

func (e *SessionTerminatedEvent) LogFields() logrus.Fields {
	return logrus.Fields{
		"sid":    e.SessionID,
		"reason": e.Reason,
	}
}
