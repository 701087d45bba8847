// Package prompts holds the generation strategies used to ask the language
// model for practice material.
//
// A strategy bundles the system instruction, the per-tier prompt wordings and
// the sampling knobs. The levelled "phrase" strategy maps levels onto tiers;
// the level-less "word" strategy always uses its single tier. Defaults are
// embedded and may be replaced with a YAML file of the same shape.
package prompts

import (
	"bytes"
	"crypto/rand"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"slices"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	constants "github.com/CodeAndHammer/hearsay/internal/constants"
)

const (
	StrategyPhrase = "phrase"
	StrategyWord   = "word"

	levelsPerTier = 3
)

var ErrInvalidStrategy = errors.New("invalid generation strategy")

//go:embed defaults.yaml
var defaultsYAML []byte

type Strategy struct {
	Name        string     `yaml:"-"`
	Levelled    bool       `yaml:"levelled"`
	System      string     `yaml:"system"`
	MaxTokens   int        `yaml:"max_tokens"`
	Temperature float64    `yaml:"temperature"`
	Tiers       [][]string `yaml:"tiers"`
}

type Set struct {
	Strategies map[string]*Strategy `yaml:"strategies"`
}

// TierForLevel maps a level onto one of tiers buckets: floor((level-1)/3),
// clamped to the valid range.
func TierForLevel(level, tiers int) int {
	if tiers <= 0 {
		return 0
	}
	return lo.Clamp((level-1)/levelsPerTier, 0, tiers-1)
}

// Tier returns the tier used for level. Level-less strategies always use 0.
func (s *Strategy) Tier(level int) int {
	if !s.Levelled {
		return 0
	}
	return TierForLevel(level, len(s.Tiers))
}

// CacheKey is the dedup cache bucket for level under this strategy.
func (s *Strategy) CacheKey(level int) int {
	if !s.Levelled {
		return 0
	}
	return lo.Clamp(level, constants.MinLevel, constants.MaxLevel)
}

// Prompt picks one wording of the tier for level.
func (s *Strategy) Prompt(level int) string {
	wordings := s.Tiers[s.Tier(level)]
	if len(wordings) == 1 {
		return wordings[0]
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(wordings))))
	if err != nil {
		return wordings[0]
	}
	return wordings[n.Int64()]
}

func (s *Strategy) validate() error {
	var errs []error
	if len(s.Tiers) == 0 {
		errs = append(errs, fmt.Errorf("%w: %s has no tiers", ErrInvalidStrategy, s.Name))
	}
	for i, tier := range s.Tiers {
		if len(tier) == 0 {
			errs = append(errs, fmt.Errorf("%w: %s tier %d has no prompts", ErrInvalidStrategy, s.Name, i))
		}
		if lo.ContainsBy(tier, func(p string) bool { return strings.TrimSpace(p) == "" }) {
			errs = append(errs, fmt.Errorf("%w: %s tier %d has an empty prompt", ErrInvalidStrategy, s.Name, i))
		}
	}
	if s.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s max_tokens must be positive", ErrInvalidStrategy, s.Name))
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		errs = append(errs, fmt.Errorf("%w: %s temperature %v out of range [0, 2]", ErrInvalidStrategy, s.Name, s.Temperature))
	}
	return errors.Join(errs...)
}

func (set *Set) Get(name string) (*Strategy, bool) {
	s, ok := set.Strategies[name]
	return s, ok
}

func (set *Set) Names() []string {
	names := lo.Keys(set.Strategies)
	slices.Sort(names)
	return names
}

// Default returns the embedded strategies.
func Default() *Set {
	set, err := LoadFromReader(bytes.NewReader(defaultsYAML))
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded defaults are invalid: %v", err))
	}
	return set
}

// Load reads strategies from path. An empty path yields the defaults.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("prompts: open %q: %w", path, err)
	}
	defer f.Close()

	set, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("prompts: parse %q: %w", path, err)
	}
	return set, nil
}

// LoadFromReader decodes and validates a strategy file. Both the phrase and
// the word strategies must be present.
func LoadFromReader(r io.Reader) (*Set, error) {
	set := &Set{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(set); err != nil {
		return nil, fmt.Errorf("prompts: decode yaml: %w", err)
	}

	var errs []error
	for _, required := range []string{StrategyPhrase, StrategyWord} {
		if _, ok := set.Strategies[required]; !ok {
			errs = append(errs, fmt.Errorf("%w: missing %q strategy", ErrInvalidStrategy, required))
		}
	}
	for name, s := range set.Strategies {
		if s == nil {
			errs = append(errs, fmt.Errorf("%w: %s is empty", ErrInvalidStrategy, name))
			continue
		}
		s.Name = name
		errs = append(errs, s.validate())
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return set, nil
}
