package gemini

import (
	"context"
	"iter"
	"sync"

	"google.golang.org/genai"
)

// GenaiStreamer streams from the Gemini API. One client is kept per API key.
type GenaiStreamer struct {
	mu      sync.Mutex
	clients map[string]*genai.Client
	// HTTPOptions lets tests or proxies point at another base URL.
	HTTPOptions genai.HTTPOptions
}

func NewGenaiStreamer() *GenaiStreamer {
	return &GenaiStreamer{clients: make(map[string]*genai.Client)}
}

func (s *GenaiStreamer) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: s.HTTPOptions,
	})
	if err != nil {
		return nil, err
	}
	s.clients[apiKey] = c
	return c, nil
}

func (s *GenaiStreamer) Stream(ctx context.Context, req *StreamRequest) iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		c, err := s.client(ctx, req.APIKey)
		if err != nil {
			yield(Fragment{}, err)
			return
		}

		for resp, err := range c.Models.GenerateContentStream(ctx, req.Model, req.Contents, req.Config) {
			if err != nil {
				yield(Fragment{}, err)
				return
			}
			for _, f := range fragmentsOf(resp) {
				if !yield(f, nil) {
					return
				}
			}
		}
	}
}

// fragmentsOf splits the first candidate of a chunk into tagged text fragments.
func fragmentsOf(resp *genai.GenerateContentResponse) []Fragment {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return nil
	}

	var out []Fragment
	for _, part := range cand.Content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		kind := FragmentOutput
		if part.Thought {
			kind = FragmentThought
		}
		out = append(out, Fragment{Kind: kind, Text: part.Text})
	}
	return out
}
