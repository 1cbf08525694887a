package detection

import "regexp"

// PatternTableVersion identifies the compiled rule set. Bump on any rule
// change so cached results and audit trails can be correlated to a ruleset.
const PatternTableVersion = "2026.08.2"

// pattern is a single compiled heuristic rule. Confidence is the score the
// rule contributes when it matches; the highest matching rule wins.
type pattern struct {
	name       string
	re         *regexp.Regexp
	confidence float64
	injType    InjectionType
	severity   SecuritySeverity
}

// patternTable is compiled once at package init. Rules are ordered from the
// most specific to the most generic; the scan still evaluates all of them so
// every matching pattern name lands in the result.
var patternTable = []pattern{
	{
		name:       "instruction_override",
		re:         regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override|bypass)\b[^.\n]{0,40}\b(previous|prior|above|earlier|preceding|all|any|your|system)\b[^.\n]{0,40}\b(instructions?|prompts?|rules?|directives?|commands?|context|guidelines?)\b`),
		confidence: 0.9,
		injType:    InjectionInstructionOverride,
		severity:   SeverityHigh,
	},
	{
		name:       "disobey_rules",
		re:         regexp.MustCompile(`(?i)\b(disobey|(do\s+not|don'?t|stop|refuse\s+to)\s+(follow|obey|listen\s+to|comply\s+with))\b[^.\n]{0,40}\b(rules?|instructions?|guidelines?|system)\b`),
		confidence: 0.85,
		injType:    InjectionInstructionOverride,
		severity:   SeverityHigh,
	},
	{
		name:       "new_instructions",
		re:         regexp.MustCompile(`(?i)\b(new|updated|real|actual|true)\s+(instructions?|rules?|directives?)\s*(:|follow|below|are)`),
		confidence: 0.8,
		injType:    InjectionInstructionOverride,
		severity:   SeverityHigh,
	},
	{
		name:       "system_prompt_extraction",
		re:         regexp.MustCompile(`(?i)\b(reveal|show|print|repeat|output|display|leak|tell\s+me)\b[^.\n]{0,40}\b(system\s+prompt|initial\s+prompt|hidden\s+instructions?|your\s+instructions?|original\s+prompt)\b`),
		confidence: 0.9,
		injType:    InjectionSystemPromptAccess,
		severity:   SeverityHigh,
	},
	{
		name:       "system_role_preface",
		re:         regexp.MustCompile(`(?im)^[ \t]*system[ \t]*:`),
		confidence: 0.85,
		injType:    InjectionSystemPromptAccess,
		severity:   SeverityHigh,
	},
	{
		name:       "assistant_role_preface",
		re:         regexp.MustCompile(`(?im)^[ \t]*assistant[ \t]*:`),
		confidence: 0.85,
		injType:    InjectionRoleConfusion,
		severity:   SeverityHigh,
	},
	{
		name:       "user_role_preface",
		re:         regexp.MustCompile(`(?im)^[ \t]*user[ \t]*:`),
		confidence: 0.8,
		injType:    InjectionRoleConfusion,
		severity:   SeverityHigh,
	},
	{
		name:       "role_confusion",
		re:         regexp.MustCompile(`(?i)\b(you\s+are\s+now|act\s+as|pretend\s+(to\s+be|you\s+are)|roleplay\s+as|behave\s+(like|as))\b[^.\n]{0,60}\b(unrestricted|uncensored|jailbroken|developer\s+mode|dan|evil|without\s+(rules|restrictions|limitations))\b`),
		confidence: 0.9,
		injType:    InjectionRoleConfusion,
		severity:   SeverityHigh,
	},
	{
		name:       "persona_switch",
		re:         regexp.MustCompile(`(?i)\b(you\s+are\s+now|from\s+now\s+on\s+you\s+are|act\s+as|pretend\s+to\s+be|roleplay\s+as)\b`),
		confidence: 0.6,
		injType:    InjectionRoleConfusion,
		severity:   SeverityMedium,
	},
	{
		name:       "conversation_reset",
		re:         regexp.MustCompile(`(?i)\b(reset|clear|wipe|restart|erase)\b[^.\n]{0,30}\b(conversation|context|memory|history|session)\b`),
		confidence: 0.8,
		injType:    InjectionContextManipulation,
		severity:   SeverityHigh,
	},
	{
		name:       "tool_marker",
		re:         regexp.MustCompile(`<\|?(im_start|im_end|endoftext|system|assistant)\|?>`),
		confidence: 0.85,
		injType:    InjectionDelimiter,
		severity:   SeverityHigh,
	},
	{
		name:       "delimiter_dashes",
		re:         regexp.MustCompile(`(?m)^[ \t]*-{3,}[ \t]*$`),
		confidence: 0.55,
		injType:    InjectionDelimiter,
		severity:   SeverityMedium,
	},
	{
		name:       "delimiter_hashes",
		re:         regexp.MustCompile(`(?m)^[ \t]*#{3,}[ \t]*$`),
		confidence: 0.55,
		injType:    InjectionDelimiter,
		severity:   SeverityMedium,
	},
}

// scanPatterns runs every rule over text and returns the matched pattern
// names with the dominant rule (highest confidence, earliest on tie).
func scanPatterns(text string) (names []string, top *pattern) {
	for i := range patternTable {
		p := &patternTable[i]
		if p.re.MatchString(text) {
			names = append(names, p.name)
			if top == nil || p.confidence > top.confidence {
				top = p
			}
		}
	}
	return names, top
}
