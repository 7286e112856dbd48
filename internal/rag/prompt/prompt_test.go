package prompt

import (
	"strings"
	"testing"
	"time"

	"notesrag/internal/model"
	"notesrag/internal/rag/sourcepack"
)

func TestAssemble_UserPromptCitesEveryPackMemberInOrder(t *testing.T) {
	chunks := []model.ScoredChunk{
		{Chunk: model.Chunk{ID: "a_000", NoteID: "a", Text: "first note", CreatedAt: time.Now()}},
		{Chunk: model.Chunk{ID: "b_000", NoteID: "b", Text: "second note", CreatedAt: time.Now()}},
	}
	pack := sourcepack.Build(chunks)

	_, user := Assemble("what happened", model.IntentQuestion, pack)
	if !strings.Contains(user, "[N1]") || !strings.Contains(user, "[N2]") {
		t.Fatalf("expected both tokens quoted in user prompt: %s", user)
	}
	if strings.Index(user, "[N1]") > strings.Index(user, "[N2]") {
		t.Fatalf("expected N1 before N2 in token order")
	}
}

func TestAssemble_SystemPromptAdaptsToIntent(t *testing.T) {
	pack := sourcepack.Build(nil)
	system, _ := Assemble("list my action items", model.IntentActionItem, pack)
	if !strings.Contains(system, "action plan") {
		t.Fatalf("expected action-plan guidance for action_item intent: %s", system)
	}
}

func TestAssemble_NoSourcesWarnsHonestly(t *testing.T) {
	pack := sourcepack.Build(nil)
	system, _ := Assemble("anything", model.IntentSearch, pack)
	if !strings.Contains(system, "No sources were found") {
		t.Fatalf("expected no-sources warning in system prompt: %s", system)
	}
}
