package sanitize

import (
	"sort"
	"strings"
)

// classifier scores payloads by the density of tokens drawn from known
// injection corpora. It is deliberately simple: a weighted vocabulary over
// normalized tokens, trained offline and baked in. Individual tokens are weak
// evidence on their own; the score only moves the verdict when several
// co-occur, which is what separates injection attempts from ordinary prose
// that happens to mention "instructions".
type classifier struct {
	vocab map[string]int
}

// newClassifier returns a classifier with the built-in vocabulary.
func newClassifier() *classifier {
	return &classifier{vocab: map[string]int{
		"ignore":       1,
		"disregard":    1,
		"override":     1,
		"instructions": 1,
		"prompt":       1,
		"jailbreak":    3,
		"sudo":         2,
		"bypass":       2,
		"unrestricted": 2,
		"developer":    1,
		"confidential": 1,
		"exfiltrate":   3,
		"reveal":       1,
		"secret":       1,
		"credentials":  2,
		"obey":         2,
	}}
}

// score returns the classifier score and the matched tokens, deduplicated and
// sorted for stable evidence output. Single weak-token matches score zero so
// that one incidental word never flags a payload by itself.
func (c *classifier) score(lowered string) (int, []string) {
	seen := make(map[string]int)
	for _, tok := range strings.FieldsFunc(lowered, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if w, ok := c.vocab[tok]; ok {
			seen[tok] = w
		}
	}

	if len(seen) == 0 {
		return 0, nil
	}

	total := 0
	tokens := make([]string, 0, len(seen))
	for tok, w := range seen {
		total += w
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)

	if len(seen) == 1 && total <= 1 {
		return 0, nil
	}
	return total, tokens
}
