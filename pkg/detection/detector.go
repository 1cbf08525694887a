package detection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"html"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/guardline/promptsentry/pkg/sanitize"
)

// Detector interface for prompt injection detection
type Detector interface {
	// Analyze checks text for injection attempts
	Analyze(ctx context.Context, text string, params *Params) (*DetectionResult, error)

	// Neutralize rewrites known injection constructs in text
	Neutralize(text string) string

	// Info reports the active configuration and ruleset
	Info() Info
}

// Config holds detector configuration
type Config struct {
	// Threshold for detection (default: 0.5)
	// Prompts with score >= threshold are flagged
	Threshold float64

	// ContextWindowChars is the hard input limit (default: 8192)
	// Longer prompts are rejected outright with a block verdict
	ContextWindowChars int

	// CacheSize is the number of cached results (default: 1024)
	CacheSize int

	// CacheTTL is how long a cached result stays valid (default: 5m)
	CacheTTL time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Threshold:          0.5,
		ContextWindowChars: 8192,
		CacheSize:          1024,
		CacheTTL:           5 * time.Minute,
	}
}

// AccuracyTarget is the acceptance bar the pattern table is tuned against.
const AccuracyTarget = 0.95

// Info describes the detector's active configuration and ruleset.
type Info struct {
	PatternTableVersion string
	PatternCount        int
	Threshold           float64
	AccuracyTarget      float64
	ContextWindowChars  int
	MinTopK             int
	MaxTopK             int
	MinSimilarity       float64
	MaxSimilarity       float64
	CacheSize           int
	CacheTTL            time.Duration
}

// HeuristicDetector scans prompts against the compiled pattern table.
// It is stateless apart from a fingerprint-keyed result cache, so a single
// instance is safe for concurrent use.
type HeuristicDetector struct {
	config Config
	cache  *expirable.LRU[string, *DetectionResult]
}

// NewHeuristicDetector creates a detector based on configuration.
// Zero-valued config fields fall back to defaults.
func NewHeuristicDetector(cfg Config) *HeuristicDetector {
	def := DefaultConfig()
	if cfg.Threshold == 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.ContextWindowChars == 0 {
		cfg.ContextWindowChars = def.ContextWindowChars
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = def.CacheTTL
	}

	return &HeuristicDetector{
		config: cfg,
		cache:  expirable.NewLRU[string, *DetectionResult](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

// Analyze implements Detector interface
func (d *HeuristicDetector) Analyze(ctx context.Context, text string, params *Params) (*DetectionResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		logrus.Trace("Detector received empty text, returning neutral result")
		return neutralResult(), nil
	}

	if len(text) > d.config.ContextWindowChars {
		logrus.WithFields(logrus.Fields{
			"text_length": len(text),
			"limit":       d.config.ContextWindowChars,
		}).Debug("Prompt exceeds context window, blocking")
		return NewDetectionResult(
			true, 1.0,
			[]string{"context_window_exceeded"},
			InjectionContextManipulation,
			SeverityHigh,
			ActionBlock,
		)
	}

	key := cacheKey(text)
	if cached, ok := d.cache.Get(key); ok {
		logrus.WithField("key", key[:8]).Trace("Detection cache hit")
		return cached, nil
	}

	result, err := d.scan(text)
	if err != nil {
		return nil, err
	}
	d.cache.Add(key, result)

	logrus.WithFields(logrus.Fields{
		"detected":   result.InjectionDetected,
		"score":      result.ConfidenceScore,
		"risk_level": result.RiskLevel,
		"type":       result.InjectionType,
		"patterns":   len(result.DetectedPatterns),
	}).Debug("Detection completed")

	return result, nil
}

// scan runs the pattern table over the raw text, then over a deobfuscated
// rendering, and finally applies the repetition heuristic.
func (d *HeuristicDetector) scan(text string) (*DetectionResult, error) {
	names, top := scanPatterns(text)

	// A second pass over the deobfuscated text catches payloads hidden
	// behind letter spacing, percent encoding, or HTML entities.
	if deob := deobfuscate(text); deob != text {
		obNames, obTop := scanPatterns(deob)
		if obTop != nil && (top == nil || obTop.confidence > top.confidence) {
			top = obTop
			names = mergeNames(names, obNames)
			names = append(names, "obfuscated_payload")
			logrus.WithField("pattern", obTop.name).
				Trace("Pattern matched only after deobfuscation")
		}
	}

	score := 0.0
	injType := InjectionNone
	severity := SeverityLow
	if top != nil {
		score = top.confidence
		injType = top.injType
		severity = top.severity
		// Multiple distinct rules firing raises confidence slightly.
		if extra := len(names) - 1; extra > 0 {
			score += 0.05 * float64(extra)
			if score > 1 {
				score = 1
			}
		}
	}

	if repName, repScore := repetitionSuspicion(text); repName != "" && repScore > score {
		score = repScore
		injType = InjectionContextManipulation
		if severity < SeverityMedium {
			severity = SeverityMedium
		}
		names = append(names, repName)
	}

	detected := score >= d.config.Threshold && len(names) > 0
	action := ActionAllow
	if detected {
		switch severity {
		case SeverityHigh:
			action = ActionBlock
		default:
			action = ActionWarn
		}
	}

	return NewDetectionResult(detected, score, names, injType, severity, action)
}

// Neutralize implements Detector interface by delegating to the sanitizer's
// rule set, so detection and neutralization never drift apart.
func (d *HeuristicDetector) Neutralize(text string) string {
	return sanitize.NeutralizeText(text)
}

// Info implements Detector interface
func (d *HeuristicDetector) Info() Info {
	return Info{
		PatternTableVersion: PatternTableVersion,
		PatternCount:        len(patternTable),
		Threshold:           d.config.Threshold,
		AccuracyTarget:      AccuracyTarget,
		ContextWindowChars:  d.config.ContextWindowChars,
		MinTopK:             minTopK,
		MaxTopK:             maxTopK,
		MinSimilarity:       minSimilarity,
		MaxSimilarity:       maxSimilarity,
		CacheSize:           d.config.CacheSize,
		CacheTTL:            d.config.CacheTTL,
	}
}

// cacheKey hashes the full text. Unlike the prefix-bounded audit
// fingerprint, two prompts sharing a long prefix must never share a
// cache entry.
func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// spacedLettersRe matches runs of single letters separated by spaces,
// hyphens, dots, or underscores ("i g n o r e", "i-g-n-o-r-e").
var spacedLettersRe = regexp.MustCompile(`\b(?:[a-zA-Z][ \-_.]){3,}[a-zA-Z]\b`)

var nonLetterRe = regexp.MustCompile(`[ \-_.]`)

// deobfuscate renders common encoding tricks back into plain text.
func deobfuscate(text string) string {
	out := spacedLettersRe.ReplaceAllStringFunc(text, func(m string) string {
		return nonLetterRe.ReplaceAllString(m, "")
	})
	if strings.Contains(out, "%") {
		if decoded, err := url.QueryUnescape(out); err == nil {
			out = decoded
		}
	}
	if strings.Contains(out, "&") {
		out = html.UnescapeString(out)
	}
	return out
}

func mergeNames(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, n := range a {
		seen[n] = true
	}
	for _, n := range b {
		if !seen[n] {
			a = append(a, n)
			seen[n] = true
		}
	}
	return a
}

// repetitionAllowlist holds tokens that legitimately repeat in technical
// prompts. Allowlisted tokens need a higher ratio before they look like
// context stuffing.
var repetitionAllowlist = map[string]bool{
	"test": true, "data": true, "http": true, "https": true,
	"json": true, "api": true, "error": true, "null": true,
	"true": true, "false": true, "user": true, "value": true,
	"code": true, "file": true, "log": true,
}

var wordRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_]*`)

// repetitionSuspicion flags prompts dominated by one repeated token, a
// cheap signal for context-stuffing attempts. Returns an empty name when
// nothing is suspicious.
func repetitionSuspicion(text string) (string, float64) {
	words := wordRe.FindAllString(strings.ToLower(text), -1)
	if len(words) < 20 {
		return "", 0
	}

	counts := make(map[string]int, len(words))
	topWord, topCount := "", 0
	for _, w := range words {
		counts[w]++
		if counts[w] > topCount {
			topWord, topCount = w, counts[w]
		}
	}

	ratio := float64(topCount) / float64(len(words))
	limit := 0.3
	if repetitionAllowlist[topWord] {
		limit = 0.4
	}
	if ratio < limit {
		return "", 0
	}

	logrus.WithFields(logrus.Fields{
		"token": topWord,
		"ratio": ratio,
	}).Trace("Repetition heuristic triggered")
	return "excessive_repetition", 0.55
}
