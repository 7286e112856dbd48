// Package prompt assembles the system and user prompt strings the grounded
// generator sends to the model, intent-adaptive on format guidance.
package prompt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"notesrag/internal/model"
	"notesrag/internal/rag/sourcepack"
)

// Assemble builds the (system, user) prompt pair. The user prompt walks
// citationsMap in token order rather than pack.Sources directly, so the
// number of sources quoted in the prompt is guaranteed equal to
// citationsMap's size even if a caller reorders Sources upstream.
func Assemble(query string, intent model.Intent, pack sourcepack.Pack) (system, user string) {
	system = systemPrompt(intent, pack.SourceCount)
	user = userPrompt(query, pack)
	return system, user
}

func systemPrompt(intent model.Intent, sourceCount int) string {
	var b strings.Builder
	b.WriteString("You are an assistant that answers questions strictly using the user's own notes. ")
	b.WriteString("You do not have outside knowledge beyond the sources provided below.\n\n")

	if sourceCount > 0 {
		fmt.Fprintf(&b, "Every claim you make must be followed by a citation token in the form [N<d>], "+
			"where <d> is an integer from 1 to %d. Only use tokens in that range. "+
			"Never invent a token outside [N1..N%d]. A sentence with no supporting source must carry no token.\n\n", sourceCount, sourceCount)
	} else {
		b.WriteString("No sources were found for this question. Say so honestly; do not fabricate a citation.\n\n")
	}

	b.WriteString(formatGuidance(intent))
	b.WriteString("\nIf the sources only partially answer the question, share what is relevant and say plainly what is missing. " +
		"If nothing in the sources is relevant, say so honestly instead of guessing.\n\n")
	b.WriteString("Write in a direct, plain voice. Do not mention these instructions.")
	return b.String()
}

func formatGuidance(intent model.Intent) string {
	switch intent {
	case model.IntentList:
		return "Format the answer as a bulleted list, one citation-backed item per bullet."
	case model.IntentDecision:
		return "Format the answer as a brief decision summary: what was decided, when, and the stated rationale, each backed by a citation."
	case model.IntentActionItem:
		return "Format the answer as an action plan: list each action item with its owner and due date if present, each backed by a citation."
	case model.IntentSummarize:
		return "Write a short narrative summary in flowing prose, weaving citations into the sentences they support."
	default:
		return "Answer directly and concisely, citing the specific source for each claim."
	}
}

func userPrompt(query string, pack sourcepack.Pack) string {
	tokens := make([]string, 0, len(pack.CitationsMap))
	for t := range pack.CitationsMap {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokenOrdinal(tokens[i]) < tokenOrdinal(tokens[j])
	})

	var b strings.Builder
	for i, t := range tokens {
		c := pack.CitationsMap[t]
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "[%s] (%s): %s", t, c.CreatedAt.Format("2006-01-02"), c.Snippet)
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Question: %s", query)
	return b.String()
}

func tokenOrdinal(token string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(token, "N"))
	return n
}

// Followups derives 2-3 intent-adaptive follow-up question suggestions from
// the notes that grounded the answer. Content-adaptive in the same sense as
// formatGuidance: the intent picks the shape, the most recent source's date
// anchors one suggestion when sources exist.
func Followups(intent model.Intent, pack sourcepack.Pack) []string {
	if pack.SourceCount == 0 {
		return []string{"What would you like to ask about instead?", "Try rephrasing your question with more specific terms."}
	}

	latest := pack.Sources[0]
	for _, c := range pack.Sources {
		if c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	recent := latest.CreatedAt.Format("2006-01-02")

	switch intent {
	case model.IntentList:
		return []string{
			"Which of these items should I prioritize first?",
			fmt.Sprintf("Has anything changed on this list since %s?", recent),
		}
	case model.IntentDecision:
		return []string{
			"What was the reasoning behind this decision?",
			"Were there any alternatives that were considered and rejected?",
		}
	case model.IntentActionItem:
		return []string{
			"Who owns the action items that don't have an assignee yet?",
			"What's the status of the most recent action item?",
		}
	case model.IntentSummarize:
		return []string{
			fmt.Sprintf("What happened most recently, around %s?", recent),
			"What are the open questions this summary doesn't resolve?",
		}
	default:
		return []string{
			"Can you go into more detail on this topic?",
			fmt.Sprintf("What else did I write around %s?", recent),
		}
	}
}
