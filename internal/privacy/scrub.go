// Package privacy redacts PII from text and structured values before
// they reach logs or model-visible output.
package privacy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Level selects how aggressively the Scrubber redacts.
type Level string

const (
	// LevelBasic redacts emails, SSNs and credit-card digit groups.
	// These patterns have a low false-positive rate, so basic is safe
	// as a default for arbitrary text.
	LevelBasic Level = "basic"

	// LevelStrict adds phone numbers (US and international formats)
	// and private-IP-range literals.
	LevelStrict Level = "strict"
)

// ParseLevel converts a config string into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "basic":
		return LevelBasic, nil
	case "strict":
		return LevelStrict, nil
	default:
		return "", fmt.Errorf("unknown scrub level %q", s)
	}
}

var (
	emailRE = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	ssnRE   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardRE  = regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`)

	// Phone matching is split in two: a precise E.164 pattern and a
	// looser US national pattern. Both only apply at strict level.
	intlPhoneRE = regexp.MustCompile(`\+\d{1,3}[-.\s]?\d{6,14}\b`)
	usPhoneRE   = regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`)

	privateIPRE = regexp.MustCompile(`\b(?:10|172\.(?:1[6-9]|2[0-9]|3[01])|192\.168)(?:\.\d{1,3}){1,3}\b`)
)

// credentialTerms mark map keys whose values are redacted wholesale,
// regardless of scrub level or value content.
var credentialTerms = []string{"password", "token", "secret", "key", "auth"}

const redacted = "[REDACTED]"

type rule struct {
	re    *regexp.Regexp
	token string
}

// Scrubber replaces PII patterns with fixed redaction tokens. The
// pattern table is fixed at construction; a Scrubber is safe for
// concurrent use.
type Scrubber struct {
	level Level
	rules []rule
}

// NewScrubber builds a Scrubber for the given level.
func NewScrubber(level Level) *Scrubber {
	rules := []rule{
		{emailRE, "[EMAIL]"},
		{ssnRE, "[SSN]"},
		{cardRE, "[CREDIT_CARD]"},
	}
	if level == LevelStrict {
		rules = append(rules,
			rule{intlPhoneRE, "[PHONE]"},
			rule{privateIPRE, "[PRIVATE_IP]"},
			rule{usPhoneRE, "[PHONE]"},
		)
	}
	return &Scrubber{level: level, rules: rules}
}

// Level returns the scrub level this Scrubber was built with.
func (s *Scrubber) Level() Level { return s.level }

// ScrubText returns text with every PII match replaced by its token.
func (s *Scrubber) ScrubText(text string) string {
	for _, r := range s.rules {
		text = r.re.ReplaceAllString(text, r.token)
	}
	return text
}

// ScrubValue scrubs a decoded JSON-like value. Map keys containing a
// credential term get their values replaced wholesale; other string
// values are scrubbed; nested maps and lists recurse; non-string
// scalars pass through unchanged.
func (s *Scrubber) ScrubValue(v any) any {
	switch val := v.(type) {
	case string:
		return s.ScrubText(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if IsCredentialKey(k) {
				out[k] = redacted
				continue
			}
			out[k] = s.ScrubValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = s.ScrubValue(inner)
		}
		return out
	default:
		return v
	}
}

// ScrubJSON scrubs a JSON document, preserving its structure. Input
// that does not parse as JSON is scrubbed as plain text.
func (s *Scrubber) ScrubJSON(data []byte) []byte {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return []byte(s.ScrubText(string(data)))
	}
	out, err := json.Marshal(s.ScrubValue(v))
	if err != nil {
		return []byte(s.ScrubText(string(data)))
	}
	return out
}

// IsCredentialKey reports whether a map key suggests its value is a
// credential.
func IsCredentialKey(key string) bool {
	lower := strings.ToLower(key)
	for _, term := range credentialTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
