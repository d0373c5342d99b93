package sanitize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// rule is one detection heuristic. check receives the raw payload and a
// lowercased copy and returns a finding when the heuristic fires.
type rule struct {
	name  string
	check func(payload, lowered string) (Finding, bool)
}

// Override and role-reassignment phrases. Matching any of these in content
// that arrived from outside the trust boundary is a strong signal: legitimate
// external data has no business addressing the agent's instructions.
var overridePhrases = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"ignore the above",
	"disregard your instructions",
	"disregard all prior",
	"forget your instructions",
	"override your instructions",
	"new instructions:",
	"your new task is",
}

var rolePhrases = []string{
	"you are now",
	"act as if you",
	"pretend you are",
	"assume the role of",
	"system prompt",
	"you must obey",
	"as your administrator",
}

// metadataDirectiveRe matches directive smuggling inside comment or metadata
// syntax (HTML comments, markdown reference labels) rather than body text.
var metadataDirectiveRe = regexp.MustCompile(`(?s)<!--.*?(instruct|ignore|override|system).*?-->`)

// base64BlobRe matches long unbroken base64 runs, a common wrapper for
// directives meant to survive naive filtering.
var base64BlobRe = regexp.MustCompile(`[A-Za-z0-9+/]{120,}={0,2}`)

// defaultRules returns the standard rule set, highest-confidence rules first.
func defaultRules() []rule {
	return []rule{
		{
			name: "override_phrase",
			check: func(payload, lowered string) (Finding, bool) {
				for _, phrase := range overridePhrases {
					if idx := strings.Index(lowered, phrase); idx != -1 {
						return Finding{
							Rule:    "override_phrase",
							Detail:  "explicit instruction-override phrase",
							Excerpt: excerpt(payload, idx, len(phrase)),
							Weight:  10,
						}, true
					}
				}
				return Finding{}, false
			},
		},
		{
			name: "role_reassignment",
			check: func(payload, lowered string) (Finding, bool) {
				for _, phrase := range rolePhrases {
					if idx := strings.Index(lowered, phrase); idx != -1 {
						return Finding{
							Rule:    "role_reassignment",
							Detail:  "role-reassignment phrase",
							Excerpt: excerpt(payload, idx, len(phrase)),
							Weight:  5,
						}, true
					}
				}
				return Finding{}, false
			},
		},
		{
			name:  "invisible_text",
			check: checkInvisibleText,
		},
		{
			name: "metadata_directive",
			check: func(payload, lowered string) (Finding, bool) {
				if loc := metadataDirectiveRe.FindStringIndex(lowered); loc != nil {
					return Finding{
						Rule:    "metadata_directive",
						Detail:  "directive embedded in comment/metadata syntax",
						Excerpt: excerpt(payload, loc[0], loc[1]-loc[0]),
						Weight:  6,
					}, true
				}
				return Finding{}, false
			},
		},
		{
			name: "base64_blob",
			check: func(payload, lowered string) (Finding, bool) {
				if loc := base64BlobRe.FindStringIndex(payload); loc != nil {
					return Finding{
						Rule:   "base64_blob",
						Detail: "long unbroken base64 run",
						Weight: 2,
					}, true
				}
				return Finding{}, false
			},
		},
	}
}

// checkInvisibleText flags zero-width and bidi-control runes. A handful can
// appear in legitimate multilingual text; density above a small absolute
// count is treated as deliberate hiding.
func checkInvisibleText(payload, lowered string) (Finding, bool) {
	count := 0
	for _, r := range payload {
		if isInvisibleRune(r) {
			count++
		}
	}
	if count == 0 {
		return Finding{}, false
	}

	weight := 3
	if count > 5 || count*20 > utf8.RuneCountInString(payload) {
		weight = 8
	}
	return Finding{
		Rule:   "invisible_text",
		Detail: "zero-width or bidi-control characters present",
		Weight: weight,
	}, true
}

// isInvisibleRune reports whether the rune is a zero-width or direction
// control character usable for hiding text.
func isInvisibleRune(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', // zero-width
		'\u202a', '\u202b', '\u202c', '\u202d', '\u202e', // bidi embedding
		'\u2066', '\u2067', '\u2068', '\u2069': // bidi isolates
		return true
	}
	// Soft hyphen is a common false positive in copied prose.
	return unicode.Is(unicode.Cf, r) && r != '\u00ad'
}
