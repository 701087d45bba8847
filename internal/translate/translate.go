// Package translate turns a revealed phrase into the player's language.
// One attempt per call: no retry and no cache.
package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CodeAndHammer/hearsay/internal/llm"
	observe "github.com/CodeAndHammer/hearsay/internal/observe"
)

const (
	DefaultLanguage = "Spanish"
	maxTokens       = 20
	temperature     = 0.3
)

type Translator struct {
	gen      llm.TextGenerator
	language string
	timeout  time.Duration
	metrics  *observe.Metrics
}

func New(gen llm.TextGenerator, language string, timeout time.Duration, metrics *observe.Metrics) *Translator {
	if strings.TrimSpace(language) == "" {
		language = DefaultLanguage
	}
	if metrics == nil {
		metrics = observe.NewNop()
	}
	return &Translator{gen: gen, language: language, timeout: timeout, metrics: metrics}
}

func (t *Translator) Language() string {
	return t.language
}

func (t *Translator) systemPrompt() string {
	return fmt.Sprintf("You are a helpful assistant that translates English text to %s. "+
		"Provide ONLY the translation, no explanations or additional text. "+
		"If the word is slang, translate it to its closest %s equivalent or most common usage.",
		t.language, t.language)
}

func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := t.gen.GenerateText(ctx, llm.CompletionRequest{
		SystemPrompt: t.systemPrompt(),
		Prompt:       fmt.Sprintf("Translate this to %s: %q", t.language, text),
		MaxTokens:    maxTokens,
		Temperature:  temperature,
	})
	t.metrics.ObserveProvider(ctx, "translate", start, err)
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	return out, nil
}
