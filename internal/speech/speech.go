// Package speech decides how a phrase is voiced for the player: either as a
// server-rendered MP3 delivered as a data URI, or by the browser's own
// speech synthesis at a rate that grows with the level.
package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	constants "github.com/CodeAndHammer/hearsay/internal/constants"
	"github.com/CodeAndHammer/hearsay/internal/llm"
	observe "github.com/CodeAndHammer/hearsay/internal/observe"
)

const audioMIME = "audio/mp3"

var ErrEmptyText = errors.New("speech: text is empty")

// Plan tells the page how to voice the current phrase.
type Plan struct {
	Mode string  `json:"mode"`
	Rate float64 `json:"rate"`
	Lang string  `json:"lang"`
}

// Rate is the on-device speaking rate for level: 0.8 at level 1, +0.1 per
// level after that.
func Rate(level int) float64 {
	level = lo.Clamp(level, constants.MinLevel, constants.MaxLevel)
	return constants.SpeechBaseRate + float64(level-1)*constants.SpeechRateIncrement
}

// NormalizeMode maps unknown modes onto the device strategy.
func NormalizeMode(mode string) string {
	if strings.EqualFold(strings.TrimSpace(mode), constants.SpeechModeServer) {
		return constants.SpeechModeServer
	}
	return constants.SpeechModeDevice
}

func PlanFor(level int, mode string) Plan {
	return Plan{
		Mode: NormalizeMode(mode),
		Rate: Rate(level),
		Lang: constants.SpeechLang,
	}
}

// DataURI wraps encoded audio as a playable URI.
func DataURI(audio []byte) string {
	return "data:" + audioMIME + ";base64," + base64.StdEncoding.EncodeToString(audio)
}

type Service struct {
	synth   llm.SpeechSynthesizer
	timeout time.Duration
	metrics *observe.Metrics
}

func NewService(synth llm.SpeechSynthesizer, timeout time.Duration, metrics *observe.Metrics) *Service {
	if metrics == nil {
		metrics = observe.NewNop()
	}
	return &Service{synth: synth, timeout: timeout, metrics: metrics}
}

// AudioURL renders text through the speech service and returns a data URI.
func (s *Service) AudioURL(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	audio, err := s.synth.SynthesizeSpeech(ctx, text)
	s.metrics.ObserveProvider(ctx, "speech", start, err)
	if err != nil {
		return "", fmt.Errorf("speech: synthesize: %w", err)
	}
	return DataURI(audio), nil
}
