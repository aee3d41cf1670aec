package research

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newResearcher() *Researcher { return New(nil, zap.NewNop()) }

func TestDefaultKnowledgeLoads(t *testing.T) {
	kb := DefaultKnowledge()
	if len(kb.Topics) < 8 {
		t.Fatalf("topics = %d", len(kb.Topics))
	}
	for _, tp := range kb.Topics {
		if len(tp.Entries) == 0 {
			t.Errorf("topic %q has no entries", tp.Name)
		}
	}
}

func TestResearchExactTopic(t *testing.T) {
	rep := newResearcher().Research(context.Background(), "What are the main types of neural networks?", "")
	if len(rep.MatchedTopics) != 1 || rep.MatchedTopics[0] != "neural networks" {
		t.Fatalf("matched = %v", rep.MatchedTopics)
	}
	if len(rep.Findings) != 6 {
		t.Errorf("findings = %d, want all 6 neural network entries", len(rep.Findings))
	}
	if rep.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", rep.Confidence)
	}
	if !strings.HasPrefix(rep.Result, "1. [neural networks] Feedforward Neural Networks:") {
		t.Errorf("result = %q", rep.Result)
	}
	if n := strings.Count(rep.Result, "\n") + 1; n != 5 {
		t.Errorf("formatted %d lines, want 5", n)
	}
}

func TestResearchConversational(t *testing.T) {
	rep := newResearcher().Research(context.Background(), "hello there", "")
	if rep.Confidence != 0.5 || rep.Result != ConversationalReply || len(rep.Findings) != 0 {
		t.Errorf("rep = %+v", rep)
	}
	// "which" must not read as "hi".
	rep = newResearcher().Research(context.Background(), "which optimizer is used most", "")
	if rep.Result == ConversationalReply {
		t.Error("greeting matched inside a word")
	}
}

func TestResearchFocusFilter(t *testing.T) {
	rep := newResearcher().Research(context.Background(), "How much memory does Adam use?", "")
	if len(rep.Findings) == 0 {
		t.Fatal("no findings")
	}
	for _, f := range rep.Findings {
		text := strings.ToLower(f.Title + " " + f.Content)
		if f.Topic == "optimization techniques" &&
			!strings.Contains(text, "adam") && !strings.Contains(text, "sgd") && !strings.Contains(text, "stochastic") {
			t.Errorf("unfocused finding %q", f.Title)
		}
	}
	if rep.Findings[0].Topic != "optimization techniques" {
		t.Errorf("first finding topic = %q, want boosted optimization entry", rep.Findings[0].Topic)
	}
}

func TestResearchPrivacyBoostAndExamples(t *testing.T) {
	rep := newResearcher().Research(context.Background(), "What are the privacy implications of ai agents?", "")
	if rep.Findings[0].Topic != "privacy and data protection" {
		t.Errorf("first topic = %q, want privacy boosted first", rep.Findings[0].Topic)
	}
	if len(rep.MatchedTopics) < 2 || rep.Confidence != 0.9 {
		t.Errorf("topics = %v confidence = %v", rep.MatchedTopics, rep.Confidence)
	}
	if len(rep.Findings) > maxFindings {
		t.Errorf("findings = %d, want at most %d", len(rep.Findings), maxFindings)
	}
}

func TestResearchNoMatch(t *testing.T) {
	rep := newResearcher().Research(context.Background(), "quantum chromodynamics lattice", "")
	if rep.Confidence != 0.3 || rep.Result != NoResultsReply {
		t.Errorf("rep = %+v", rep)
	}
}

func TestResearchMemoryContextFlag(t *testing.T) {
	rep := newResearcher().Research(context.Background(), "tell me about transformer architectures", "earlier notes")
	if !rep.UsedMemory {
		t.Error("memory context not recorded")
	}
}

func TestLoadKnowledgeRejectsEmpty(t *testing.T) {
	if _, err := LoadKnowledge(strings.NewReader(`{"topics":[]}`)); err == nil {
		t.Error("expected error for empty knowledge base")
	}
	kb, err := LoadKnowledge(strings.NewReader(`{"topics":[{"name":"x","entries":[{"title":"X","content":"about x"}]}]}`))
	if err != nil || len(kb.Topics) != 1 {
		t.Fatalf("kb = %+v err = %v", kb, err)
	}
	rep := New(kb, zap.NewNop()).Research(context.Background(), "what is x used for", "")
	if len(rep.Findings) != 1 {
		t.Errorf("findings = %+v", rep.Findings)
	}
}
