// Package mock provides test doubles for the llm interfaces.
//
// Example:
//
//	gen := &mock.Generator{Responses: []string{"good morning"}}
//	text, err := gen.GenerateText(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/CodeAndHammer/hearsay/internal/llm"
)

// Generator is a scripted llm.TextGenerator. Responses are returned in
// order; once exhausted the last response repeats. Err, when set, is
// returned from every call.
type Generator struct {
	mu sync.Mutex

	Responses []string
	Err       error

	// Calls records every request in order.
	Calls []llm.CompletionRequest
}

func (g *Generator) GenerateText(ctx context.Context, req llm.CompletionRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.Err != nil {
		return "", g.Err
	}
	if len(g.Responses) == 0 {
		return "", nil
	}
	idx := min(len(g.Calls)-1, len(g.Responses)-1)
	return g.Responses[idx], nil
}

func (g *Generator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

func (g *Generator) SetErr(err error) {
	g.mu.Lock()
	g.Err = err
	g.mu.Unlock()
}

// Synthesizer is a scripted llm.SpeechSynthesizer.
type Synthesizer struct {
	mu sync.Mutex

	Audio []byte
	Err   error

	Texts []string
}

func (s *Synthesizer) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Texts = append(s.Texts, text)
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Audio, nil
}
