// Package redact implements the tiered secret redactor: a stateless,
// level-parameterized scrubber used by the logger, the tool executor, and
// the session store before anything touches disk or a provider request.
//
// This consolidates two pattern lists that drifted independently in the
// source this was built from (one in the logger, one in the tool-result
// guard) into a single table.
package redact

import "regexp"

// Level selects which pattern categories are active.
type Level string

const (
	LevelStrict        Level = "strict"
	LevelStandard      Level = "standard" // alias for strict
	LevelAPIPermissive Level = "api_permissive"
	LevelPII           Level = "pii"
	LevelOff           Level = "off"
)

// Category groups related patterns.
type Category string

const (
	CategoryPII    Category = "pii"
	CategoryCrypto Category = "crypto"
	CategoryAPIKey Category = "api_keys"
	CategoryToken  Category = "tokens"
)

var levelCategories = map[Level][]Category{
	LevelStrict:        {CategoryPII, CategoryCrypto, CategoryAPIKey, CategoryToken},
	LevelStandard:      {CategoryPII, CategoryCrypto, CategoryAPIKey, CategoryToken},
	LevelAPIPermissive: {CategoryPII, CategoryCrypto},
	LevelPII:           {CategoryPII},
	LevelOff:           {},
}

const redactedText = "[REDACTED]"

type pattern struct {
	category Category
	re       *regexp.Regexp
}

var patterns = []pattern{
	// pii
	{CategoryPII, regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{CategoryPII, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},                                    // US SSN
	{CategoryPII, regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`)},     // US phone
	{CategoryPII, regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)},                                  // credit card
	{CategoryPII, regexp.MustCompile(`\b[A-CEGHJ-PR-TW-Z]{2}\d{6}[A-DFM]?\b`)},                     // UK NI number

	// crypto
	{CategoryCrypto, regexp.MustCompile(`(?s)-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----.*?-----END (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)},
	{CategoryCrypto, regexp.MustCompile(`(?i)\b\w+://[^:/\s]+:[^@/\s]+@[^\s]+`)},                  // connection string with creds
	{CategoryCrypto, regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*[^\s;]+`)},            // password=/password: assignments

	// api_keys
	{CategoryAPIKey, regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},                           // AWS access key
	{CategoryAPIKey, regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`)},                 // GitHub classic
	{CategoryAPIKey, regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,}\b`)},               // GitHub fine-grained
	{CategoryAPIKey, regexp.MustCompile(`\bsk_(live|test)_[A-Za-z0-9]{16,}\b`)},            // Stripe
	{CategoryAPIKey, regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{30,}\b`)},                    // Google
	{CategoryAPIKey, regexp.MustCompile(`\bsk-ant-[a-zA-Z0-9_-]{90,}\b`)},                  // Anthropic
	{CategoryAPIKey, regexp.MustCompile(`\bsk-[a-zA-Z0-9]{20,}\b`)},                        // OpenAI
	{CategoryAPIKey, regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`)},               // Slack bot/user
	{CategoryAPIKey, regexp.MustCompile(`\bxapp-[A-Za-z0-9-]{10,}\b`)},                     // Slack app
	{CategoryAPIKey, regexp.MustCompile(`(?i)\b(discord\.com/api/webhooks)/\d+/[\w-]+\b`)}, // Discord webhook
	{CategoryAPIKey, regexp.MustCompile(`\bSK[a-z0-9]{32}\b`)},                             // Twilio
	{CategoryAPIKey, regexp.MustCompile(`\bSG\.[A-Za-z0-9_\-.]{30,}\b`)},                   // SendGrid
	{CategoryAPIKey, regexp.MustCompile(`\b(gsk|npm)_[A-Za-z0-9]{10,}\b`)},                 // Groq / npm
	{CategoryAPIKey, regexp.MustCompile(`\bpplx-[A-Za-z0-9]{10,}\b`)},                      // Perplexity
	{CategoryAPIKey, regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w\-]{16,}['"]?`)}, // generic

	// tokens
	{CategoryToken, regexp.MustCompile(`\beyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*\b`)}, // JWT
	{CategoryToken, regexp.MustCompile(`(?i)\bBearer\s+[a-zA-Z0-9._\-]{8,}\b`)},
	{CategoryToken, regexp.MustCompile(`(?i)\bAuthorization:\s*Basic\s+[A-Za-z0-9+/=]{8,}\b`)},
}

var whitelist = map[string]bool{
	"example.com":     true,
	"example.org":     true,
	"localhost":       true,
	"user@example.com": true,
}

// Redact replaces every match of every pattern enabled at level with
// [REDACTED]. It is idempotent: Redact(Redact(x, L), L) == Redact(x, L).
func Redact(text string, level Level) string {
	cats := levelCategories[level]
	if len(cats) == 0 {
		return text
	}
	enabled := make(map[Category]bool, len(cats))
	for _, c := range cats {
		enabled[c] = true
	}
	out := text
	for _, p := range patterns {
		if !enabled[p.category] {
			continue
		}
		out = p.re.ReplaceAllStringFunc(out, func(match string) string {
			if whitelist[match] {
				return match
			}
			return redactedText
		})
	}
	return out
}

// RedactAny recurses into maps and slices, redacting scalar strings in
// place; other value kinds pass through unchanged.
func RedactAny(value any, level Level) any {
	switch v := value.(type) {
	case string:
		return Redact(v, level)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = RedactAny(val, level)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = RedactAny(val, level)
		}
		return out
	default:
		return value
	}
}

// Finding is one secret match reported by DetectSecrets.
type Finding struct {
	Category Category
	Match    string
}

// DetectSecrets scans text with the patterns enabled at level without
// modifying it. Callers use this to warn before persisting content that
// Redact would alter.
func DetectSecrets(text string, level Level) []Finding {
	cats := levelCategories[level]
	if len(cats) == 0 {
		return nil
	}
	enabled := make(map[Category]bool, len(cats))
	for _, c := range cats {
		enabled[c] = true
	}
	var findings []Finding
	for _, p := range patterns {
		if !enabled[p.category] {
			continue
		}
		for _, m := range p.re.FindAllString(text, -1) {
			if whitelist[m] {
				continue
			}
			findings = append(findings, Finding{Category: p.category, Match: m})
		}
	}
	return findings
}

// LevelPower reports whether a's redaction set is a superset of b's
// (strict/standard ⊇ api_permissive ⊇ pii ⊇ off), used to verify the
// monotonicity invariant in tests.
func LevelPower(a, b Level) bool {
	setA := make(map[Category]bool)
	for _, c := range levelCategories[a] {
		setA[c] = true
	}
	for _, c := range levelCategories[b] {
		if !setA[c] {
			return false
		}
	}
	return true
}
