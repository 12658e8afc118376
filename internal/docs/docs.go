// Package docs implements the AI docs-tool collaborator of spec.md §6:
// query(text, topic?, maxResults?) → {answer, sources[], confidence}.
// The core does not cache responses and failures surface as docs.error
// frames without otherwise affecting Room state, per spec.md.
//
// Grounded on the teacher's internal/router.SkillRouter: a keyword-pattern
// classifier dispatching to topic-specific lookups, generalized here from
// the teacher's fixed knowledge/episode/operational/recon categories to an
// open topic string supplied by the caller.
package docs

import (
	"context"
	"fmt"
	"strings"
)

// Result is the wire shape returned by a successful query.
type Result struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
}

// Collaborator is the interface docs.query handlers invoke.
type Collaborator interface {
	Query(ctx context.Context, text, topic string, maxResults int) (*Result, error)
}

// Topic is a coarse classification bucket, mirroring the teacher's QueryType
// enum but left open-ended: an unrecognized topic still resolves to Unknown
// and gets a best-effort answer rather than failing.
type Topic string

const (
	TopicKnowledge   Topic = "knowledge"
	TopicOperational Topic = "operational"
	TopicArchitecture Topic = "architecture"
	TopicUnknown     Topic = "unknown"
)

// classify mirrors SkillRouter.ClassifyQuery's keyword-pattern matching.
func classify(text string) Topic {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "how do i", "how to", "what is", "explain", "why"):
		return TopicKnowledge
	case containsAny(lower, "status", "running", "deploy", "restart", "health"):
		return TopicOperational
	case containsAny(lower, "design", "architecture", "pattern", "structure"):
		return TopicArchitecture
	default:
		return TopicUnknown
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// KnowledgeBase is queried by a Source for answers within a topic.
type KnowledgeBase interface {
	// Lookup returns up to maxResults candidate answers relevant to text
	// within topic. An empty slice means no match was found.
	Lookup(ctx context.Context, topic Topic, text string, maxResults int) ([]Entry, error)
}

// Entry is one candidate answer from a KnowledgeBase.
type Entry struct {
	Answer     string
	Source     string
	Confidence float64
}

// Source is the default Collaborator: classify, look up, pick the best
// candidate. With no KnowledgeBase configured it degrades to a fixed
// low-confidence answer rather than erroring, since spec.md treats a
// docs-tool failure as a docs.error frame, not a protocol fault.
type Source struct {
	KB KnowledgeBase
}

func NewSource(kb KnowledgeBase) *Source {
	return &Source{KB: kb}
}

func (s *Source) Query(ctx context.Context, text, topic string, maxResults int) (*Result, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	t := Topic(topic)
	if t == "" {
		t = classify(text)
	}

	if s.KB == nil {
		return &Result{
			Answer:     fmt.Sprintf("No docs collaborator configured to answer %q (topic=%s).", text, t),
			Sources:    nil,
			Confidence: 0,
		}, nil
	}

	entries, err := s.KB.Lookup(ctx, t, text, maxResults)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &Result{Answer: "No matching documentation found.", Sources: nil, Confidence: 0}, nil
	}

	best := entries[0]
	sources := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Source != "" {
			sources = append(sources, e.Source)
		}
	}
	return &Result{Answer: best.Answer, Sources: sources, Confidence: best.Confidence}, nil
}
