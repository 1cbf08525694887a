package preprocess

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guardline/promptsentry/pkg/audit"
	"github.com/guardline/promptsentry/pkg/bus"
	"github.com/guardline/promptsentry/pkg/detection"
	"github.com/guardline/promptsentry/pkg/event"
	"github.com/guardline/promptsentry/pkg/sanitize"
	"github.com/guardline/promptsentry/pkg/session"
)

// Alerter delivers security alerts. Delivery is best-effort: the pipeline
// bounds it with a timeout and swallows failures.
type Alerter interface {
	Notify(ctx context.Context, alert *event.SecurityAlertEvent) error
}

// BusAlerter publishes alerts on the event bus.
type BusAlerter struct {
	eventBus bus.EventBus
}

func NewBusAlerter(eventBus bus.EventBus) *BusAlerter {
	return &BusAlerter{eventBus: eventBus}
}

func (a *BusAlerter) Notify(_ context.Context, alert *event.SecurityAlertEvent) error {
	a.eventBus.Publish(alert)
	return nil
}

// ReqInfo carries request metadata alongside a prompt. All fields are
// optional.
type ReqInfo struct {
	SessionID string
	RequestID string
	UserAgent string
	SourceIP  string
	Params    *detection.Params
}

// DetectionSummary is the log-safe slice of a detection result exposed on
// pipeline results. Patterns are capped at event.MaxAlertPatterns.
type DetectionSummary struct {
	Detected      bool
	Score         float64
	Patterns      []string
	InjectionType event.InjectionType
	RiskLevel     event.SecuritySeverity
}

// SecurePreprocessResult is the pipeline outcome for one prompt.
// SanitizedText is empty when the prompt was blocked.
type SecurePreprocessResult struct {
	Allowed       bool
	ActionTaken   event.SecurityAction
	SanitizedText string
	Sanitized     bool
	SystemWrapper string
	Detection     DetectionSummary
	Audit         *audit.Record
}

// Config holds preprocessor configuration
type Config struct {
	// Thresholds are the decision cut points (default: 0.25/0.60/0.85)
	Thresholds Thresholds

	// AlertTimeout bounds alert delivery (default: 2s)
	AlertTimeout time.Duration

	// Policy supplies the system wrapper (default: fixed policy text)
	Policy sanitize.PolicyProvider
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Thresholds:   DefaultThresholds(),
		AlertTimeout: 2 * time.Second,
	}
}

// Preprocessor runs the full secure preprocessing pipeline: detect, decide,
// sanitize, audit, alert, and terminate sessions on block verdicts.
// Safe for concurrent use.
type Preprocessor struct {
	config    Config
	detector  detection.Detector
	sanitizer *sanitize.Sanitizer
	auditor   audit.Logger
	alerter   Alerter
	sessions  session.Store

	// Metrics (atomic for thread safety)
	totalAnalyzed atomic.Int64
	totalDetected atomic.Int64
	totalBlocked  atomic.Int64
	totalErrors   atomic.Int64
}

// New creates a preprocessor. Nil collaborators fall back to defaults:
// heuristic detector, default-policy sanitizer, logrus audit sink. A nil
// alerter disables alerting; a nil session store disables termination.
func New(cfg Config, detector detection.Detector, auditor audit.Logger, alerter Alerter, sessions session.Store) (*Preprocessor, error) {
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.AlertTimeout == 0 {
		cfg.AlertTimeout = 2 * time.Second
	}
	if detector == nil {
		detector = detection.NewHeuristicDetector(detection.DefaultConfig())
	}
	if auditor == nil {
		auditor = audit.NewLogrusLogger(nil)
	}

	logrus.WithFields(logrus.Fields{
		"low":    cfg.Thresholds.Low,
		"medium": cfg.Thresholds.Medium,
		"high":   cfg.Thresholds.High,
	}).Debug("Preprocessor initialized")

	return &Preprocessor{
		config:    cfg,
		detector:  detector,
		sanitizer: sanitize.New(cfg.Policy),
		auditor:   auditor,
		alerter:   alerter,
		sessions:  sessions,
	}, nil
}

// Process runs one prompt through the pipeline.
func (p *Preprocessor) Process(ctx context.Context, text string, info ReqInfo) (*SecurePreprocessResult, error) {
	start := time.Now()

	det, err := p.detector.Analyze(ctx, text, info.Params)
	if err != nil {
		p.totalErrors.Add(1)
		logrus.WithError(err).WithField("rid", info.RequestID).Debug("Detection failed")
		return nil, fmt.Errorf("detection failed: %w", err)
	}
	p.totalAnalyzed.Add(1)
	if det.InjectionDetected {
		p.totalDetected.Add(1)
	}

	action := p.decide(det.ConfidenceScore, det.RiskLevel, det.RecommendedAction)

	// Sanitization runs on every verdict so the audit trail records
	// whether the text changed; blocked prompts still drop the text.
	sanitizedText := ""
	sanitized := false
	wrapper := p.sanitizer.Wrapper()
	if nr, serr := p.sanitizer.Sanitize(text, action); serr != nil {
		// Oversized input is never passed through.
		logrus.WithError(serr).WithField("rid", info.RequestID).
			Warn("Sanitization failed, blocking")
		action = event.ActionBlock
	} else {
		sanitized = nr.Changed
		wrapper = nr.SystemWrapper
		if action != event.ActionBlock {
			sanitizedText = nr.SanitizedText
		}
	}
	if action == event.ActionBlock {
		p.totalBlocked.Add(1)
	}

	patterns := event.CapPatterns(det.DetectedPatterns)
	fingerprint := event.Fingerprint(text)

	rec := &audit.Record{
		Timestamp:   start,
		SessionID:   info.SessionID,
		RequestID:   info.RequestID,
		UserAgent:   info.UserAgent,
		SourceIP:    info.SourceIP,
		Patterns:    patterns,
		Score:       det.ConfidenceScore,
		Severity:    det.RiskLevel,
		Action:      action,
		InputLength: len(text),
		Fingerprint: fingerprint,
		DurationMS:  time.Since(start).Milliseconds(),
		Constrained: wrapper != "",
		Sanitized:   sanitized,
	}
	p.auditor.Log(rec)

	if action == event.ActionBlock || det.RiskLevel == event.SeverityHigh {
		p.notifyAlert(&event.SecurityAlertEvent{
			Timestamp:        start,
			SessionID:        info.SessionID,
			RequestID:        info.RequestID,
			SourceIP:         info.SourceIP,
			Severity:         det.RiskLevel,
			Score:            det.ConfidenceScore,
			DetectedPatterns: patterns,
			InjectionType:    det.InjectionType,
			ActionTaken:      action,
			InputFingerprint: fingerprint,
		})
	}

	if action == event.ActionBlock && p.sessions != nil && info.SessionID != "" {
		if !p.sessions.Remove(info.SessionID) {
			logrus.WithField("sid", info.SessionID).
				Error("Failed to remove session after block verdict")
		}
	}

	return &SecurePreprocessResult{
		Allowed:       action != event.ActionBlock,
		ActionTaken:   action,
		SanitizedText: sanitizedText,
		Sanitized:     sanitized,
		SystemWrapper: wrapper,
		Detection: DetectionSummary{
			Detected:      det.InjectionDetected,
			Score:         det.ConfidenceScore,
			Patterns:      patterns,
			InjectionType: det.InjectionType,
			RiskLevel:     det.RiskLevel,
		},
		Audit: rec,
	}, nil
}

// decide maps a score to an action via the thresholds, upgrades allow to
// warn on high severity, then merges the detector's recommendation.
// The merge only ever tightens.
func (p *Preprocessor) decide(score float64, severity event.SecuritySeverity, recommended event.SecurityAction) event.SecurityAction {
	action := event.ActionAllow
	switch {
	case score >= p.config.Thresholds.High:
		action = event.ActionBlock
	case score >= p.config.Thresholds.Low:
		action = event.ActionWarn
	}
	if severity == event.SeverityHigh && action == event.ActionAllow {
		action = event.ActionWarn
	}
	return action.Stricter(recommended)
}

// notifyAlert delivers an alert with its own timeout context. Alerting is
// strictly best-effort: errors and panics are contained and logged, and the
// request context is deliberately not used so cancellation can't drop alerts.
func (p *Preprocessor) notifyAlert(alert *event.SecurityAlertEvent) {
	if p.alerter == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.AlertTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Warn("Alerter panicked")
		}
	}()

	if err := p.alerter.Notify(ctx, alert); err != nil {
		logrus.WithError(err).WithFields(alert.LogFields()).Warn("Alert delivery failed")
	}
}

// Stats returns current pipeline statistics
func (p *Preprocessor) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_analyzed": p.totalAnalyzed.Load(),
		"total_detected": p.totalDetected.Load(),
		"total_blocked":  p.totalBlocked.Load(),
		"total_errors":   p.totalErrors.Load(),
	}
}
