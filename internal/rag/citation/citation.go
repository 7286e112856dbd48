// Package citation implements the two-layer citation contract: a
// token-level check that every [N<d>] in an answer resolves to a real pack
// member, and an optional claim-level check that the cited excerpt actually
// supports the sentence it's attached to.
package citation

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"notesrag/internal/model"
	"notesrag/internal/rag/sourcepack"
)

var tokenRe = regexp.MustCompile(`\[N(\d+)\]`)

// semanticMatchThreshold is the semantic-match threshold; a claim's cited
// excerpt is flagged as possibly unsupportive when its Jaccard overlap falls
// below half of it.
const semanticMatchThreshold = 0.65

// Result is the outcome of validating one generated answer against its pack.
type Result struct {
	Coverage      float64
	UsedCitations []model.Citation // in order of first use
	InvalidTokens []string         // full "[N<d>]" tokens outside [1, sourceCount] or undefined
	Flags         []ClaimFlag
}

// ClaimFlag marks a sentence whose citation may not support its claim.
type ClaimFlag struct {
	Sentence           string
	Token               string
	SuggestedReplacement string
}

// Validator runs both layers. Stateless; safe for concurrent use.
type Validator struct {
	ClaimLevelEnabled bool
}

// NewValidator returns a Validator with claim-level checking enabled.
func NewValidator() *Validator {
	return &Validator{ClaimLevelEnabled: true}
}

// Validate implements §4.10: token-level coverage plus an optional
// claim-level semantic-overlap pass.
func (v *Validator) Validate(answer string, pack sourcepack.Pack) Result {
	matches := tokenRe.FindAllStringSubmatch(answer, -1)
	cited := make(map[string]bool)
	var invalid []string
	var ordered []model.Citation
	seen := make(map[string]bool)

	for _, m := range matches {
		token := "N" + m[1]
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > pack.SourceCount {
			invalid = append(invalid, m[0])
			continue
		}
		c, ok := pack.CitationsMap[token]
		if !ok {
			invalid = append(invalid, m[0])
			continue
		}
		cited[token] = true
		if !seen[token] {
			seen[token] = true
			ordered = append(ordered, c)
		}
	}

	coverage := 0.0
	if pack.SourceCount > 0 {
		coverage = float64(len(cited)) / float64(pack.SourceCount)
	}

	result := Result{Coverage: coverage, UsedCitations: ordered, InvalidTokens: dedupStrings(invalid)}
	if v.ClaimLevelEnabled {
		result.Flags = v.checkClaims(answer, pack)
	}
	return result
}

var sentenceSplitRe = regexp.MustCompile(`(?:[.!?]\s+|\n+)`)

// checkClaims splits the answer into sentences, and for every sentence
// carrying a citation token, tests whether the sentence's non-stopword word
// set overlaps enough with the cited excerpt's to plausibly support it.
func (v *Validator) checkClaims(answer string, pack sourcepack.Pack) []ClaimFlag {
	var flags []ClaimFlag
	for _, sentence := range sentenceSplitRe.Split(answer, -1) {
		tokens := tokenRe.FindAllStringSubmatch(sentence, -1)
		if len(tokens) == 0 {
			continue
		}
		for _, m := range tokens {
			token := "N" + m[1]
			c, ok := pack.CitationsMap[token]
			if !ok {
				continue
			}
			overlap := jaccardWords(stripTokensFromText(sentence), c.Snippet)
			if overlap < 0.5*semanticMatchThreshold {
				flags = append(flags, ClaimFlag{
					Sentence:             strings.TrimSpace(sentence),
					Token:                token,
					SuggestedReplacement: suggestReplacement(sentence, pack),
				})
			}
		}
	}
	return flags
}

// suggestReplacement finds the pack member maximizing
// 0.3*keyword-overlap + 0.7*score.
func suggestReplacement(sentence string, pack sourcepack.Pack) string {
	best := ""
	bestScore := -1.0
	words := wordSet(stripTokensFromText(sentence))
	for token, c := range pack.CitationsMap {
		overlap := jaccard(words, wordSet(c.Snippet))
		combined := 0.3*overlap + 0.7*c.Score
		if combined > bestScore {
			bestScore = combined
			best = token
		}
	}
	return best
}

// NormalizeTokens rewrites every "[N<d>]" citation token in s to its
// client-facing "[<d>]" form, dropping the N prefix. Used on the streaming
// token path: the emitted text is display-only, validation always runs
// against the raw [N<d>] form accumulated internally.
func NormalizeTokens(s string) string {
	return tokenRe.ReplaceAllString(s, "[$1]")
}

// StripTokens removes every token in bad (verbatim "[N<d>]" strings) from
// text, used after a repair attempt still leaves out-of-range tokens.
func StripTokens(text string, bad []string) string {
	out := text
	for _, t := range bad {
		out = strings.ReplaceAll(out, t, "")
	}
	return out
}

func stripTokensFromText(s string) string {
	return tokenRe.ReplaceAllString(s, "")
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "of": true, "to": true,
	"in": true, "on": true, "for": true, "with": true, "at": true, "by": true,
	"it": true, "this": true, "that": true, "as": true, "be": true,
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) < 3 || stopwords[w] {
			continue
		}
		out[w] = true
	}
	return out
}

func jaccardWords(a, b string) float64 {
	return jaccard(wordSet(a), wordSet(b))
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func dedupStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
