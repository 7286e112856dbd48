package query

import (
	"testing"

	"notesrag/internal/model"
)

func TestClassifyIntent_DecisionBeforeQuestion(t *testing.T) {
	got := ClassifyIntent(Normalize("what did I decide about the database"))
	if got != model.IntentDecision {
		t.Fatalf("expected decision, got %s", got)
	}
}

func TestClassifyIntent_DefaultsToSearch(t *testing.T) {
	got := ClassifyIntent(Normalize("postgresql migration notes"))
	if got != model.IntentSearch {
		t.Fatalf("expected search, got %s", got)
	}
}

func TestTimeHintDays_RelativeWeek(t *testing.T) {
	got := TimeHintDays(Normalize("summarize this week's notes"))
	if got == nil || *got != 7 {
		t.Fatalf("expected 7 day hint, got %v", got)
	}
}

func TestIsUniqueID(t *testing.T) {
	if !IsUniqueID("CITE_TEST_002") {
		t.Fatalf("expected CITE_TEST_002 to be recognized as a unique id")
	}
	if IsUniqueID("database") {
		t.Fatalf("expected plain word to not be a unique id")
	}
}

func TestAnalyze_ProducesBoostTermsForDecision(t *testing.T) {
	a := Analyze("what did we decide about the database")
	if a.Intent != model.IntentDecision {
		t.Fatalf("expected decision intent, got %s", a.Intent)
	}
	found := false
	for _, b := range a.BoostTerms {
		if b == "rationale" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected decision synonym 'rationale' in boost terms: %v", a.BoostTerms)
	}
}
