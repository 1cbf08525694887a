package event

import (
	"crypto/sha256"
	"encoding/hex"
)

type EventType uint8

const (
	// Injection detected at alerting severity, or a prompt was blocked.
	EventTypeSecurityAlert EventType = 1
	// A session was removed following a block verdict.
	EventTypeSessionTerminated EventType = 2
)

func (e EventType) String() string {
	switch e {
	case EventTypeSecurityAlert:
		return "security_alert"
	case EventTypeSessionTerminated:
		return "session_terminated"
	default:
		return "unknown"
	}
}

// Event is the interface for all events
type Event interface {
	Type() EventType
}

// fingerprintPrefixChars bounds the hashed prefix so fingerprinting stays
// cheap on huge inputs while remaining stable for correlation.
const fingerprintPrefixChars = 2048

// Fingerprint returns an 8-hex-character content fingerprint computed over
// at most the first 2048 characters of text. It is a pure function of that
// prefix: identical prefixes yield identical fingerprints.
func Fingerprint(text string) string {
	if len(text) > fingerprintPrefixChars {
		text = text[:fingerprintPrefixChars]
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:4])
}
