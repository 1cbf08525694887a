package detection

import (
	"errors"
	"fmt"

	"github.com/guardline/promptsentry/pkg/event"
)

// Re-export types from event package so detection callers don't need both imports
type (
	SecuritySeverity = event.SecuritySeverity
	SecurityAction   = event.SecurityAction
	InjectionType    = event.InjectionType
)

// Re-export constants
const (
	SeverityLow    = event.SeverityLow
	SeverityMedium = event.SeverityMedium
	SeverityHigh   = event.SeverityHigh

	ActionAllow = event.ActionAllow
	ActionWarn  = event.ActionWarn
	ActionBlock = event.ActionBlock

	InjectionNone                  = event.InjectionNone
	InjectionInstructionOverride   = event.InjectionInstructionOverride
	InjectionRoleConfusion         = event.InjectionRoleConfusion
	InjectionDelimiter             = event.InjectionDelimiter
	InjectionContextManipulation   = event.InjectionContextManipulation
	InjectionSystemPromptAccess    = event.InjectionSystemPromptAccess
	InjectionParameterManipulation = event.InjectionParameterManipulation
	InjectionOther                 = event.InjectionOther
)

// Allowed ranges for the auxiliary retrieval parameters.
const (
	minTopK       = 1
	maxTopK       = 50
	minSimilarity = 0.1
	maxSimilarity = 1.0
)

var (
	// ErrScoreOutOfRange is returned when a confidence score falls
	// outside [0, 1].
	ErrScoreOutOfRange = errors.New("confidence score out of range [0, 1]")

	// ErrTopKOutOfRange is returned when top_k falls outside [1, 50].
	ErrTopKOutOfRange = errors.New("top_k out of range [1, 50]")

	// ErrSimilarityOutOfRange is returned when similarity_threshold falls
	// outside [0.1, 1.0].
	ErrSimilarityOutOfRange = errors.New("similarity_threshold out of range [0.1, 1.0]")
)

// Params carries optional auxiliary retrieval parameters submitted alongside
// a prompt. Nil fields mean "not supplied" and are not validated.
type Params struct {
	TopK                *int
	SimilarityThreshold *float64
}

// Validate checks each supplied parameter against its allowed range.
// Each violation maps to its own sentinel so callers can distinguish them.
func (p *Params) Validate() error {
	if p == nil {
		return nil
	}
	if p.TopK != nil && (*p.TopK < minTopK || *p.TopK > maxTopK) {
		return fmt.Errorf("%w: got %d", ErrTopKOutOfRange, *p.TopK)
	}
	if p.SimilarityThreshold != nil && (*p.SimilarityThreshold < minSimilarity || *p.SimilarityThreshold > maxSimilarity) {
		return fmt.Errorf("%w: got %v", ErrSimilarityOutOfRange, *p.SimilarityThreshold)
	}
	return nil
}

// DetectionResult is the outcome of analyzing a single prompt.
type DetectionResult struct {
	InjectionDetected bool
	ConfidenceScore   float64
	DetectedPatterns  []string
	InjectionType     InjectionType
	RiskLevel         SecuritySeverity
	RecommendedAction SecurityAction
}

// NewDetectionResult builds a result, rejecting confidence scores outside
// [0, 1]. Results never reach callers with an unclamped score.
func NewDetectionResult(detected bool, score float64, patterns []string, injType InjectionType, risk SecuritySeverity, action SecurityAction) (*DetectionResult, error) {
	if score < 0 || score > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrScoreOutOfRange, score)
	}
	return &DetectionResult{
		InjectionDetected: detected,
		ConfidenceScore:   score,
		DetectedPatterns:  patterns,
		InjectionType:     injType,
		RiskLevel:         risk,
		RecommendedAction: action,
	}, nil
}

// neutralResult is the result for empty or whitespace-only input.
func neutralResult() *DetectionResult {
	return &DetectionResult{
		InjectionDetected: false,
		ConfidenceScore:   0,
		InjectionType:     InjectionNone,
		RiskLevel:         SeverityLow,
		RecommendedAction: ActionAllow,
	}
}
