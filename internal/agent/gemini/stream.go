package gemini

import (
	"context"
	"iter"
	"strings"

	"google.golang.org/genai"
)

// FragmentKind tags a streamed piece of model output.
type FragmentKind int

const (
	FragmentOutput FragmentKind = iota
	FragmentThought
)

func (k FragmentKind) String() string {
	if k == FragmentThought {
		return "thought"
	}
	return "output"
}

// Fragment is one incremental piece of streamed output.
type Fragment struct {
	Kind FragmentKind
	Text string
}

// Snapshot is the cumulative state after a fragment. Receivers own it.
type Snapshot struct {
	Thoughts []string `json:"thoughts"`
	Outputs  []string `json:"outputs"`
}

func (s Snapshot) Thought() string {
	return strings.Join(s.Thoughts, "")
}

func (s Snapshot) Output() string {
	return strings.Join(s.Outputs, "")
}

// LastThought is the most recent narration fragment, what a live preview shows.
func (s Snapshot) LastThought() string {
	if len(s.Thoughts) == 0 {
		return ""
	}
	return s.Thoughts[len(s.Thoughts)-1]
}

// StreamRequest is one streaming generation call.
type StreamRequest struct {
	APIKey   string
	Model    string
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig
}

// Streamer yields fragments in arrival order. A non-nil error ends the sequence.
type Streamer interface {
	Stream(ctx context.Context, req *StreamRequest) iter.Seq2[Fragment, error]
}
