package preprocess

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/guardline/promptsentry/pkg/detection"
	"github.com/guardline/promptsentry/pkg/event"
	"github.com/guardline/promptsentry/pkg/session"
)

// DefaultHighConfidenceBar is the batch termination score. It is
// deliberately stricter than the block threshold: a batch stops early only
// on near-certain detections.
const DefaultHighConfidenceBar = 0.9

// ErrSessionNotFound is returned when the guarded session is absent.
var ErrSessionNotFound = errors.New("session not found")

// PromptRecord is the per-prompt outcome within a batch. Err carries a
// contained per-prompt failure; failed prompts count as not detected.
type PromptRecord struct {
	Index             int                    `json:"index"`
	Prompt            string                 `json:"prompt"`
	Detected          bool                   `json:"detected"`
	Score             float64                `json:"score"`
	InjectionType     event.InjectionType    `json:"injection_type"`
	RiskLevel         event.SecuritySeverity `json:"risk_level"`
	RecommendedAction event.SecurityAction   `json:"recommended_action"`
	Err               string                 `json:"error,omitempty"`
}

// PromptProcessingResult summarizes a batch run.
type PromptProcessingResult struct {
	HighConfidenceDetected bool
	DetectionIndex         int
	SessionTerminated      bool
	TotalPromptsProcessed  int
	DetectionResults       []PromptRecord
}

// BatchProcessor drives the pipeline over an ordered prompt list with a
// session guard. With no Preprocessor configured it falls back to
// detector-only scanning (no sanitization, auditing, or alerting).
type BatchProcessor struct {
	preprocessor *Preprocessor
	detector     detection.Detector
	sessions     session.Store
	bar          float64
}

// NewBatchProcessor creates a batch processor. A zero bar uses
// DefaultHighConfidenceBar; a nil detector uses the heuristic default.
func NewBatchProcessor(pre *Preprocessor, detector detection.Detector, sessions session.Store, bar float64) *BatchProcessor {
	if bar == 0 {
		bar = DefaultHighConfidenceBar
	}
	if detector == nil {
		if pre != nil {
			detector = pre.detector
		} else {
			detector = detection.NewHeuristicDetector(detection.DefaultConfig())
		}
	}
	return &BatchProcessor{
		preprocessor: pre,
		detector:     detector,
		sessions:     sessions,
		bar:          bar,
	}
}

// ProcessPrompts runs prompts in order. The session is re-fetched before
// every prompt; once it disappears, processing stops. A block verdict or a
// score at or above the bar stops the batch and terminates the session.
func (b *BatchProcessor) ProcessPrompts(ctx context.Context, sessionID string, prompts []string) (*PromptProcessingResult, error) {
	result := &PromptProcessingResult{DetectionIndex: -1}

	for i, prompt := range prompts {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		// The guard runs before every prompt, not once up front: an
		// earlier block in this batch, or any concurrent actor, may
		// have removed the session mid-run.
		if !b.sessionAlive(sessionID) {
			logrus.WithFields(logrus.Fields{
				"sid":   sessionID,
				"index": i,
			}).Debug("Session gone, stopping batch")
			break
		}

		rec := b.processOne(ctx, i, prompt, sessionID)
		result.DetectionResults = append(result.DetectionResults, rec)
		result.TotalPromptsProcessed++

		if rec.Err != "" {
			continue
		}

		if rec.RecommendedAction == event.ActionBlock || rec.Score >= b.bar {
			result.HighConfidenceDetected = true
			result.DetectionIndex = i
			result.SessionTerminated = b.terminate(sessionID)

			logrus.WithFields(logrus.Fields{
				"sid":    sessionID,
				"index":  i,
				"score":  rec.Score,
				"action": rec.RecommendedAction,
			}).Warn("Batch stopped on high-confidence detection")
			break
		}
	}

	return result, nil
}

// ProcessSinglePromptWithGuard checks the session exists, then runs one
// prompt through the pipeline.
func (b *BatchProcessor) ProcessSinglePromptWithGuard(ctx context.Context, sessionID, prompt string) (*SecurePreprocessResult, error) {
	if !b.sessionAlive(sessionID) {
		return nil, ErrSessionNotFound
	}
	if b.preprocessor == nil {
		return nil, errors.New("no preprocessor configured")
	}
	return b.preprocessor.Process(ctx, prompt, ReqInfo{SessionID: sessionID})
}

func (b *BatchProcessor) processOne(ctx context.Context, index int, prompt, sessionID string) PromptRecord {
	rec := PromptRecord{Index: index, Prompt: prompt}

	if b.preprocessor != nil {
		res, err := b.preprocessor.Process(ctx, prompt, ReqInfo{SessionID: sessionID})
		if err != nil {
			rec.Err = err.Error()
			return rec
		}
		rec.Detected = res.Detection.Detected
		rec.Score = res.Detection.Score
		rec.InjectionType = res.Detection.InjectionType
		rec.RiskLevel = res.Detection.RiskLevel
		rec.RecommendedAction = res.ActionTaken
		return rec
	}

	det, err := b.detector.Analyze(ctx, prompt, nil)
	if err != nil {
		rec.Err = err.Error()
		return rec
	}
	rec.Detected = det.InjectionDetected
	rec.Score = det.ConfidenceScore
	rec.InjectionType = det.InjectionType
	rec.RiskLevel = det.RiskLevel
	rec.RecommendedAction = det.RecommendedAction
	return rec
}

// sessionAlive reports whether the guarded session still exists. With no
// store configured there is nothing to guard.
func (b *BatchProcessor) sessionAlive(sessionID string) bool {
	if b.sessions == nil || sessionID == "" {
		return true
	}
	_, ok := b.sessions.Get(sessionID)
	return ok
}

// terminate removes the session. It also reports true when the session is
// already gone, which happens when a block verdict removed it inside
// Preprocessor.Process moments earlier.
func (b *BatchProcessor) terminate(sessionID string) bool {
	if b.sessions == nil || sessionID == "" {
		return false
	}
	if b.sessions.Remove(sessionID) {
		return true
	}
	_, ok := b.sessions.Get(sessionID)
	return !ok
}
