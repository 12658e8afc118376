package docs

import (
	"context"
	"testing"
)

type staticKB struct {
	entries []Entry
}

func (s staticKB) Lookup(ctx context.Context, topic Topic, text string, maxResults int) ([]Entry, error) {
	return s.entries, nil
}

func TestQueryWithoutKnowledgeBaseDegrades(t *testing.T) {
	src := NewSource(nil)
	res, err := src.Query(context.Background(), "how do I restart a room?", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Confidence != 0 {
		t.Fatalf("expected zero confidence without a KB, got %v", res.Confidence)
	}
}

func TestQueryReturnsBestEntry(t *testing.T) {
	kb := staticKB{entries: []Entry{
		{Answer: "restart via /broadcast", Source: "ops.md", Confidence: 0.8},
	}}
	src := NewSource(kb)
	res, err := src.Query(context.Background(), "how do I restart?", "operational", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Answer != "restart via /broadcast" || res.Confidence != 0.8 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Sources) != 1 || res.Sources[0] != "ops.md" {
		t.Fatalf("unexpected sources: %v", res.Sources)
	}
}

func TestClassifyBuckets(t *testing.T) {
	cases := map[string]Topic{
		"how do I block a task":        TopicKnowledge,
		"is the room healthy right now":  TopicOperational,
		"describe the design pattern used": TopicArchitecture,
		"zzz":                           TopicUnknown,
	}
	for text, want := range cases {
		if got := classify(text); got != want {
			t.Errorf("classify(%q) = %s, want %s", text, got, want)
		}
	}
}
