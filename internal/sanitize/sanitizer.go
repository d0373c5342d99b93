// Package sanitize screens request payloads derived from untrusted external
// content for embedded directives before they reach policy evaluation.
// Detection is heuristic: rule matching plus a token-frequency classifier.
// False negatives are expected and are backstopped by anomaly detection.
package sanitize

import (
	"strings"
)

// Verdict is the outcome of a payload scan.
type Verdict string

const (
	// VerdictClean means no injection indicators were found.
	VerdictClean Verdict = "clean"
	// VerdictSuspicious means indicators were found that warrant stricter
	// policy treatment and a negative trust delta, but not an outright block.
	VerdictSuspicious Verdict = "suspicious"
	// VerdictBlocked means the payload carried indicators strong enough to
	// short-circuit the pipeline with a deny.
	VerdictBlocked Verdict = "blocked"
)

// Finding is one piece of evidence produced by a rule or the classifier.
type Finding struct {
	Rule    string `json:"rule"`
	Detail  string `json:"detail"`
	Excerpt string `json:"excerpt,omitempty"`
	Weight  int    `json:"weight"`
}

// Result carries the verdict and the evidence behind it.
type Result struct {
	Verdict  Verdict   `json:"verdict"`
	Score    int       `json:"score"`
	Findings []Finding `json:"findings,omitempty"`
}

// Blocked reports whether the scan verdict blocks the request.
func (r Result) Blocked() bool {
	return r.Verdict == VerdictBlocked
}

// Suspicious reports whether the scan verdict flags the request.
func (r Result) Suspicious() bool {
	return r.Verdict == VerdictSuspicious
}

// Score thresholds over the summed rule weights and classifier score.
const (
	suspiciousThreshold = 4
	blockedThreshold    = 10
)

// maxExcerptLen bounds evidence excerpts so findings stay loggable.
const maxExcerptLen = 80

// Scanner screens payloads for injected directives.
type Scanner struct {
	rules      []rule
	classifier *classifier
}

// NewScanner creates a Scanner with the default rule set and classifier
// vocabulary.
func NewScanner() *Scanner {
	return &Scanner{
		rules:      defaultRules(),
		classifier: newClassifier(),
	}
}

// Scan evaluates the payload against all rules and the classifier and
// returns the combined verdict. A single high-weight rule match can block on
// its own; lower-weight matches accumulate.
func (s *Scanner) Scan(payload string) Result {
	if payload == "" {
		return Result{Verdict: VerdictClean}
	}

	lowered := strings.ToLower(payload)

	var findings []Finding
	score := 0
	for _, r := range s.rules {
		if f, matched := r.check(payload, lowered); matched {
			findings = append(findings, f)
			score += f.Weight
		}
	}

	if cScore, tokens := s.classifier.score(lowered); cScore > 0 {
		findings = append(findings, Finding{
			Rule:   "classifier",
			Detail: "injection vocabulary density: " + strings.Join(tokens, ", "),
			Weight: cScore,
		})
		score += cScore
	}

	verdict := VerdictClean
	switch {
	case score >= blockedThreshold:
		verdict = VerdictBlocked
	case score >= suspiciousThreshold:
		verdict = VerdictSuspicious
	}

	return Result{
		Verdict:  verdict,
		Score:    score,
		Findings: findings,
	}
}

// excerpt trims the matched region to a loggable size.
func excerpt(payload string, idx, length int) string {
	end := idx + length
	if end > idx+maxExcerptLen {
		end = idx + maxExcerptLen
	}
	if end > len(payload) {
		end = len(payload)
	}
	return payload[idx:end]
}
