// Package phrase asks the language model for practice phrases and keeps
// recent repeats away from players.
//
// Each request makes up to three attempts to get a candidate the recency
// cache has not seen at that level. When all of them collide the level's
// cache is cleared and one more candidate is accepted unconditionally, so a
// busy cache can never stall a game. A service error ends the request at once.
package phrase

import (
	"context"
	"errors"
	"fmt"
	"time"

	constants "github.com/CodeAndHammer/hearsay/internal/constants"
	"github.com/CodeAndHammer/hearsay/internal/llm"
	observe "github.com/CodeAndHammer/hearsay/internal/observe"
	phrasecache "github.com/CodeAndHammer/hearsay/internal/phrasecache"
	prompts "github.com/CodeAndHammer/hearsay/internal/prompts"
	util "github.com/CodeAndHammer/hearsay/internal/util"
)

// ErrGeneration wraps every failure of the generation service.
var ErrGeneration = errors.New("phrase generation failed")

const DefaultCallTimeout = 10 * time.Second

type Request struct {
	Strategy *prompts.Strategy
	Level    int
}

type Result struct {
	Phrase   string `json:"phrase"`
	Attempts int    `json:"attempts"`
	Forced   bool   `json:"forced"`
}

type Generator struct {
	gen         llm.TextGenerator
	cache       *phrasecache.Cache
	metrics     *observe.Metrics
	maxAttempts int
	callTimeout time.Duration
}

type Option func(*Generator)

func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithCallTimeout bounds each call to the generation service.
func WithCallTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.callTimeout = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

func New(gen llm.TextGenerator, cache *phrasecache.Cache, opts ...Option) *Generator {
	g := &Generator{
		gen:         gen,
		cache:       cache,
		metrics:     observe.NewNop(),
		maxAttempts: constants.MaxAttempts,
		callTimeout: DefaultCallTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate returns a phrase for req. The error, if any, wraps ErrGeneration.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	s := req.Strategy
	if s == nil {
		return Result{}, fmt.Errorf("%w: no strategy", ErrGeneration)
	}
	key := s.CacheKey(req.Level)

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		candidate, err := g.candidate(ctx, s, req.Level)
		if err != nil {
			g.metrics.RecordGenerationFailure(ctx, s.Name)
			return Result{}, fmt.Errorf("%w: attempt %d: %w", ErrGeneration, attempt, err)
		}
		if g.cache.IsUnique(key, candidate) {
			g.metrics.RecordPhrase(ctx, s.Name, false)
			util.LogInfo(util.WithRequestID(ctx, "Accepted %s at level %d after %d attempt(s)"), s.Name, key, attempt)
			return Result{Phrase: candidate, Attempts: attempt}, nil
		}
		g.metrics.RecordDuplicate(ctx, s.Name)
		util.LogInfo(util.WithRequestID(ctx, "Duplicate %s at level %d: %q (attempt %d/%d)"), s.Name, key, candidate, attempt, g.maxAttempts)
	}

	util.LogWarn(util.WithRequestID(ctx, "No unique %s at level %d after %d attempts, resetting cache"), s.Name, key, g.maxAttempts)
	g.cache.Reset(key)

	candidate, err := g.candidate(ctx, s, req.Level)
	if err != nil {
		g.metrics.RecordGenerationFailure(ctx, s.Name)
		return Result{}, fmt.Errorf("%w: forced attempt: %w", ErrGeneration, err)
	}
	// recorded so the next request sees it as recent
	g.cache.IsUnique(key, candidate)
	g.metrics.RecordPhrase(ctx, s.Name, true)
	return Result{Phrase: candidate, Attempts: g.maxAttempts + 1, Forced: true}, nil
}

func (g *Generator) candidate(ctx context.Context, s *prompts.Strategy, level int) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	start := time.Now()
	text, err := g.gen.GenerateText(callCtx, llm.CompletionRequest{
		SystemPrompt: s.System,
		Prompt:       s.Prompt(level),
		MaxTokens:    s.MaxTokens,
		Temperature:  s.Temperature,
	})
	g.metrics.ObserveProvider(ctx, "text", start, err)
	return text, err
}
