package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SecuritySeverity is an ordered risk scale. It is integer-backed so that
// severity comparisons are numeric, never string-based.
type SecuritySeverity uint8

const (
	SeverityLow SecuritySeverity = iota
	SeverityMedium
	SeverityHigh
)

func (s SecuritySeverity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

func (s SecuritySeverity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ParseSeverity maps an external label to a severity level.
// "critical" is an alias for high, never a distinct level.
func ParseSeverity(label string) (SecuritySeverity, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high", "critical":
		return SeverityHigh, nil
	default:
		return SeverityLow, fmt.Errorf("unknown severity label: %q", label)
	}
}

// SecurityAction is the ordered enforcement scale. The total order
// allow < warn < block backs the "upgrade, never downgrade" merge logic.
type SecurityAction uint8

const (
	ActionAllow SecurityAction = iota
	ActionWarn
	ActionBlock
)

func (a SecurityAction) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionWarn:
		return "warn"
	case ActionBlock:
		return "block"
	default:
		return "unknown"
	}
}

func (a SecurityAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// Stricter returns the stricter of the two actions. Merging a
// recommendation into a computed action only ever tightens policy.
func (a SecurityAction) Stricter(b SecurityAction) SecurityAction {
	if b > a {
		return b
	}
	return a
}

// InjectionType classifies why a detection fired.
type InjectionType uint8

const (
	InjectionNone InjectionType = iota
	InjectionInstructionOverride
	InjectionRoleConfusion
	InjectionDelimiter
	InjectionContextManipulation
	InjectionSystemPromptAccess
	InjectionParameterManipulation
	InjectionOther
)

func (t InjectionType) String() string {
	switch t {
	case InjectionNone:
		return "none"
	case InjectionInstructionOverride:
		return "instruction_override"
	case InjectionRoleConfusion:
		return "role_confusion"
	case InjectionDelimiter:
		return "delimiter_injection"
	case InjectionContextManipulation:
		return "context_manipulation"
	case InjectionSystemPromptAccess:
		return "system_prompt_access"
	case InjectionParameterManipulation:
		return "parameter_manipulation"
	case InjectionOther:
		return "other"
	default:
		return "unknown"
	}
}

func (t InjectionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}
