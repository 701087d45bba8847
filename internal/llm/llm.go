// Package llm describes the external text-generation and speech-synthesis
// services the game depends on. Implementations must be safe for concurrent
// use and honour context cancellation.
package llm

import "context"

// CompletionRequest is a single-turn chat completion.
type CompletionRequest struct {
	// SystemPrompt is sent as the system message when non-empty.
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Temperature  float64
}

type TextGenerator interface {
	// GenerateText returns the trimmed completion text. A response without
	// content yields "" and a nil error.
	GenerateText(ctx context.Context, req CompletionRequest) (string, error)
}

type SpeechSynthesizer interface {
	// SynthesizeSpeech renders text as encoded audio bytes.
	SynthesizeSpeech(ctx context.Context, text string) ([]byte, error)
}
