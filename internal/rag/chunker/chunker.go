// Package chunker splits normalized note text into overlapping chunks with
// recovered character offsets, anchor strings, and extracted lexical terms.
package chunker

import (
	"regexp"
	"strings"

	"notesrag/internal/config"
)

// TermsVersion is attached to every extracted term list so a future
// extraction-algorithm change can invalidate stored terms.
const TermsVersion = "v1"

// RawChunk is the chunker's raw output before the indexer attaches
// identifiers, tenant, position, and embeddings.
type RawChunk struct {
	Text        string
	StartOffset int
	EndOffset   int
	Anchor      string
	PrevContext string
	NextContext string
	Terms       []string
}

var (
	blankLinesRe    = regexp.MustCompile(`\n\s*\n+`)
	sentenceSplitRe = regexp.MustCompile(`[.!?]\s+`)
	nonWordRe       = regexp.MustCompile(`[^\w]+`)
)

// stopwords is a small, common English stopword set; terms shorter than 3
// characters are dropped regardless of membership here.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"day": true, "get": true, "has": true, "him": true, "his": true,
	"how": true, "man": true, "new": true, "now": true, "old": true,
	"see": true, "two": true, "way": true, "who": true, "boy": true,
	"did": true, "its": true, "let": true, "put": true, "say": true,
	"she": true, "too": true, "use": true, "with": true, "this": true,
	"that": true, "from": true, "have": true, "were": true, "been": true,
	"their": true, "what": true, "when": true, "where": true, "which": true,
	"about": true, "would": true, "there": true, "could": true, "should": true,
}

// Normalize converts CRLF to LF and trims surrounding whitespace, per the
// chunker's input contract.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(text)
}

// Split partitions normalized note text into chunks per the target/min/max
// size policy: paragraphs as the primary semantic unit, falling back to
// sentence splitting for oversized paragraphs, with overlap-seeded
// continuation chunks.
func Split(text string, cfg config.ChunkingConfig) []RawChunk {
	if text == "" {
		return nil
	}
	if len(text) <= cfg.MaxSize {
		return []RawChunk{finalize(text, 0)}
	}

	units := splitUnits(text, cfg)

	var chunks []string
	var current strings.Builder
	for _, unit := range units {
		if current.Len() > 0 && current.Len()+1+len(unit) > cfg.MaxSize {
			if current.Len() >= cfg.MinSize {
				chunks = append(chunks, current.String())
				current.Reset()
				current.WriteString(overlapSeed(chunks[len(chunks)-1], cfg.Overlap))
				if current.Len() > 0 {
					current.WriteString(" ")
				}
				current.WriteString(unit)
				continue
			}
			// Current chunk is below minSize but adding would overflow:
			// force-add then split at the best internal boundary.
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(unit)
			forced := current.String()
			current.Reset()
			head, tail := splitAtBoundary(forced, cfg.TargetSize)
			chunks = append(chunks, head)
			if tail != "" {
				current.WriteString(overlapSeed(head, cfg.Overlap))
				if current.Len() > 0 {
					current.WriteString(" ")
				}
				current.WriteString(tail)
			}
			continue
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(unit)
	}
	if current.Len() > 0 {
		remainder := current.String()
		if len(chunks) > 0 && len(remainder) < cfg.MinSize && len(chunks[len(chunks)-1])+1+len(remainder) <= cfg.MaxSize {
			chunks[len(chunks)-1] = chunks[len(chunks)-1] + " " + remainder
		} else {
			chunks = append(chunks, remainder)
		}
	}

	out := make([]RawChunk, 0, len(chunks))
	cursor := 0
	for i, c := range chunks {
		rc, nextCursor := recoverOffsets(text, c, cursor)
		cursor = nextCursor
		out = append(out, rc)
		_ = i
	}
	attachContextWindows(out)
	return out
}

// splitUnits breaks text into paragraphs, further splitting any paragraph
// whose length exceeds the target size at sentence boundaries.
func splitUnits(text string, cfg config.ChunkingConfig) []string {
	paras := blankLinesRe.Split(text, -1)
	var units []string
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if len(p) <= cfg.TargetSize {
			units = append(units, p)
			continue
		}
		sentences := splitSentences(p)
		units = append(units, sentences...)
	}
	return units
}

func splitSentences(p string) []string {
	locs := sentenceSplitRe.FindAllStringIndex(p, -1)
	if len(locs) == 0 {
		return []string{p}
	}
	var out []string
	start := 0
	for _, loc := range locs {
		out = append(out, strings.TrimSpace(p[start:loc[1]]))
		start = loc[1]
	}
	if start < len(p) {
		out = append(out, strings.TrimSpace(p[start:]))
	}
	return out
}

// overlapSeed returns the trailing ≤ overlap characters of the just
// finalized chunk, backed off to the nearest preceding sentence boundary,
// then word boundary.
func overlapSeed(finalized string, overlap int) string {
	if overlap <= 0 || len(finalized) == 0 {
		return ""
	}
	start := len(finalized) - overlap
	if start < 0 {
		start = 0
	}
	window := finalized[start:]
	if loc := sentenceSplitRe.FindAllStringIndex(window, -1); len(loc) > 0 {
		last := loc[len(loc)-1]
		return strings.TrimSpace(window[last[1]:])
	}
	if i := strings.IndexByte(window, ' '); i >= 0 {
		return strings.TrimSpace(window[i+1:])
	}
	return strings.TrimSpace(window)
}

// splitAtBoundary splits an over-target forced chunk at the best boundary
// within ±100 characters of the target: sentence end, else clause end
// (comma), else last space.
func splitAtBoundary(text string, target int) (head, tail string) {
	if len(text) <= target {
		return text, ""
	}
	lo, hi := target-100, target+100
	if lo < 0 {
		lo = 0
	}
	if hi > len(text) {
		hi = len(text)
	}
	window := text[lo:hi]

	if locs := sentenceSplitRe.FindAllStringIndex(window, -1); len(locs) > 0 {
		mid := len(locs) / 2
		cut := lo + locs[mid][1]
		return strings.TrimSpace(text[:cut]), strings.TrimSpace(text[cut:])
	}
	if i := strings.LastIndex(window, ", "); i >= 0 {
		cut := lo + i + 2
		return strings.TrimSpace(text[:cut]), strings.TrimSpace(text[cut:])
	}
	if i := strings.LastIndex(window, " "); i >= 0 {
		cut := lo + i + 1
		return strings.TrimSpace(text[:cut]), strings.TrimSpace(text[cut:])
	}
	return text, ""
}

// recoverOffsets locates chunk's first ~100 characters in source starting
// from cursor to recover StartOffset; falls back to cursor+len(chunk) if the
// substring search fails.
func recoverOffsets(source, chunk string, cursor int) (RawChunk, int) {
	probeLen := 100
	if probeLen > len(chunk) {
		probeLen = len(chunk)
	}
	probe := chunk[:probeLen]

	start := -1
	if cursor <= len(source) {
		if idx := strings.Index(source[cursor:], probe); idx >= 0 {
			start = cursor + idx
		}
	}
	if start < 0 {
		start = cursor
	}
	end := start + len(chunk)
	if end > len(source) {
		end = len(source)
	}
	return finalizeWithOffsets(chunk, start, end), end
}

func finalize(text string, start int) RawChunk {
	return finalizeWithOffsets(text, start, start+len(text))
}

func finalizeWithOffsets(text string, start, end int) RawChunk {
	anchor := text
	if len(anchor) > 50 {
		anchor = anchor[:50]
	}
	return RawChunk{
		Text:        text,
		StartOffset: start,
		EndOffset:   end,
		Anchor:      anchor,
		Terms:       ExtractTerms(text),
	}
}

// attachContextWindows fills PrevContext/NextContext with ~100 trailing /
// leading characters of the adjacent chunk.
func attachContextWindows(chunks []RawChunk) {
	const window = 100
	for i := range chunks {
		if i > 0 {
			prev := chunks[i-1].Text
			if len(prev) > window {
				prev = prev[len(prev)-window:]
			}
			chunks[i].PrevContext = prev
		}
		if i < len(chunks)-1 {
			next := chunks[i+1].Text
			if len(next) > window {
				next = next[:window]
			}
			chunks[i].NextContext = next
		}
	}
}

// ExtractTerms lowercases, strips non-word characters, drops stopwords and
// tokens shorter than 3 characters, and deduplicates while preserving first
// occurrence order.
func ExtractTerms(text string) []string {
	lower := strings.ToLower(text)
	fields := nonWordRe.Split(lower, -1)
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
