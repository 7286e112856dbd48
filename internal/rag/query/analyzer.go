// Package query implements the rule-based, deterministic query analyzer:
// intent classification, time-window inference, entity detection, and
// boost-term derivation. Results are not cached: every Analyze call
// recomputes them, and a chat request analyzes its message more than once.
package query

import (
	"regexp"
	"strconv"
	"strings"

	"notesrag/internal/model"
)

var whitespaceRe = regexp.MustCompile(`\s+`)
var exoticPunctRe = regexp.MustCompile("[^\\w\\s.,!?'\"()\\-]")

const maxQueryLen = 2000

// Normalize trims, collapses whitespace, strips exotic punctuation, and
// caps length.
func Normalize(q string) string {
	q = strings.TrimSpace(q)
	q = whitespaceRe.ReplaceAllString(q, " ")
	q = exoticPunctRe.ReplaceAllString(q, "")
	if len(q) > maxQueryLen {
		q = q[:maxQueryLen]
	}
	return q
}

type intentRule struct {
	intent model.Intent
	re     *regexp.Regexp
}

// Ordering is load-bearing: decision patterns precede generic question
// patterns so "what did I decide" classifies as decision, not question.
var intentRules = []intentRule{
	{model.IntentSummarize, regexp.MustCompile(`(?i)\b(summarize|summary|recap|overview of|tl;?dr)\b`)},
	{model.IntentDecision, regexp.MustCompile(`(?i)\b(decide|decided|decision|chose|choose|chosen|rationale)\b`)},
	{model.IntentActionItem, regexp.MustCompile(`(?i)\b(action item|todo|to-do|to do|follow[- ]?up|next steps?)\b`)},
	{model.IntentList, regexp.MustCompile(`(?i)\b(list|enumerate|what are (the|all)|which (ones|notes))\b`)},
	{model.IntentQuestion, regexp.MustCompile(`(?i)^\s*(what|when|where|who|why|how|which|is|are|did|does|do|can|could|should)\b`)},
}

// ClassifyIntent applies the ordered regex table, defaulting to search.
func ClassifyIntent(normalized string) model.Intent {
	for _, r := range intentRules {
		if r.re.MatchString(normalized) {
			return r.intent
		}
	}
	return model.IntentSearch
}

type timeRule struct {
	re      *regexp.Regexp
	unit    int
	maxUnit int
}

var allTimePatternsRe = regexp.MustCompile(`(?i)\b(all|ever|history|first|oldest|earliest)\b`)

var timeRules = []timeRule{
	{regexp.MustCompile(`(?i)\b(\d+)\s*day`), 1, 365},
	{regexp.MustCompile(`(?i)\b(\d+)\s*week`), 7, 52},
	{regexp.MustCompile(`(?i)\b(\d+)\s*month`), 30, 12},
	{regexp.MustCompile(`(?i)\btoday\b`), 1, 1},
	{regexp.MustCompile(`(?i)\byesterday\b`), 2, 1},
	{regexp.MustCompile(`(?i)\bthis week\b`), 7, 1},
	{regexp.MustCompile(`(?i)\bthis month\b`), 30, 1},
	{regexp.MustCompile(`(?i)\blast week\b`), 14, 1},
	{regexp.MustCompile(`(?i)\blast month\b`), 60, 1},
}

// TimeHintDays returns the first matching relative time window, in days.
func TimeHintDays(normalized string) *int {
	for _, r := range timeRules {
		m := r.re.FindStringSubmatch(normalized)
		if m == nil {
			continue
		}
		if len(m) > 1 && m[1] != "" {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if n > r.maxUnit {
				n = r.maxUnit
			}
			days := n * r.unit
			return &days
		}
		days := r.unit
		return &days
	}
	return nil
}

var capitalizedSeqRe = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*)*)\b`)
var quotedSpanRe = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)

var interrogatives = map[string]bool{
	"what": true, "when": true, "where": true, "who": true, "why": true,
	"how": true, "which": true, "is": true, "are": true, "did": true,
	"does": true, "do": true, "can": true, "could": true, "should": true,
}

const maxEntities = 5

// ExtractEntities finds capitalized multi-word sequences and quoted spans,
// filtering common interrogatives, capped at 5.
func ExtractEntities(raw string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, maxEntities)

	add := func(s string) bool {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return len(out) >= maxEntities
		}
		if interrogatives[strings.ToLower(s)] {
			return len(out) >= maxEntities
		}
		seen[s] = true
		out = append(out, s)
		return len(out) >= maxEntities
	}

	for _, m := range quotedSpanRe.FindAllStringSubmatch(raw, -1) {
		span := m[1]
		if span == "" {
			span = m[2]
		}
		if add(span) {
			return out
		}
	}
	for _, m := range capitalizedSeqRe.FindAllString(raw, -1) {
		if strings.Contains(m, " ") || len(m) > 1 {
			if add(m) {
				return out
			}
		}
	}
	return out
}

var wordRe = regexp.MustCompile(`[a-z0-9_]+`)
var stopwordsAnalyzer = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "to": true,
	"of": true, "in": true, "on": true, "for": true, "with": true, "did": true,
	"do": true, "does": true, "what": true, "when": true, "where": true,
	"who": true, "why": true, "how": true, "which": true, "this": true,
	"that": true, "about": true,
}

// Keywords splits the normalized query into lowercase content words.
func Keywords(normalized string) []string {
	lower := strings.ToLower(normalized)
	words := wordRe.FindAllString(lower, -1)
	seen := make(map[string]bool)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 3 || stopwordsAnalyzer[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

var uniqueIDRe1 = regexp.MustCompile(`(?i)^[a-z][a-z0-9_]*[0-9_][a-z0-9_]*$`)
var uniqueIDRe2 = regexp.MustCompile(`(?i)^[a-z]+_[a-z0-9_]+$`)

// IsUniqueID reports whether token looks like an identifier rather than a
// natural-language word.
func IsUniqueID(token string) bool {
	return uniqueIDRe1.MatchString(token) || uniqueIDRe2.MatchString(token)
}

var intentSynonyms = map[model.Intent][]string{
	model.IntentDecision:   {"decided", "chose", "rationale", "decision"},
	model.IntentActionItem: {"todo", "action", "followup", "next"},
	model.IntentSummarize:  {"summary", "overview", "recap"},
	model.IntentList:       {"list", "items", "enumerate"},
}

const maxBoostTerms = 20

// BoostTerms unions keywords with intent-specific synonyms, capped.
func BoostTerms(keywords []string, intent model.Intent) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, maxBoostTerms)
	add := func(s string) {
		if s == "" || seen[s] || len(out) >= maxBoostTerms {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, k := range keywords {
		add(k)
	}
	for _, s := range intentSynonyms[intent] {
		add(s)
	}
	return out
}

// Analyze runs the full pipeline over a raw query string.
func Analyze(raw string) model.QueryAnalysis {
	normalized := Normalize(raw)
	keywords := Keywords(normalized)
	intent := ClassifyIntent(normalized)
	timeHint := TimeHintDays(normalized)
	entities := ExtractEntities(raw)
	boost := BoostTerms(keywords, intent)

	var uniqueIDs []string
	for _, k := range keywords {
		if IsUniqueID(k) {
			uniqueIDs = append(uniqueIDs, k)
		}
	}

	return model.QueryAnalysis{
		Normalized:   normalized,
		Keywords:     keywords,
		Intent:       intent,
		TimeHintDays: timeHint,
		Entities:     entities,
		BoostTerms:   boost,
		UniqueIDs:    uniqueIDs,
	}
}

// IsAllTimeQuery reports whether the query matches all-time patterns
// (all|ever|history|first|oldest|earliest).
func IsAllTimeQuery(normalized string) bool {
	return allTimePatternsRe.MatchString(normalized)
}
