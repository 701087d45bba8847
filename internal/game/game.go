// Package game runs one player's listening round: fetch a phrase, let the
// page voice it, count down while the player types, grade the answer and
// move on.
//
// Every transition happens under the controller's lock. Timers carry the
// epoch they were armed in and do nothing once the round has moved on.
package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"

	constants "github.com/CodeAndHammer/hearsay/internal/constants"
	observe "github.com/CodeAndHammer/hearsay/internal/observe"
	phrase "github.com/CodeAndHammer/hearsay/internal/phrase"
	prompts "github.com/CodeAndHammer/hearsay/internal/prompts"
	scoring "github.com/CodeAndHammer/hearsay/internal/scoring"
	speech "github.com/CodeAndHammer/hearsay/internal/speech"
	util "github.com/CodeAndHammer/hearsay/internal/util"
)

type Phase string

const (
	PhaseLoading   Phase = "loading"
	PhaseReady     Phase = "ready"
	PhaseSpeaking  Phase = "speaking"
	PhasePlaying   Phase = "playing"
	PhaseCorrect   Phase = "correct"
	PhaseTimedOut  Phase = "timed_out"
	PhaseHintShown Phase = "hint_shown"
)

var (
	ErrNotPlaying = errors.New("game: round is not accepting answers")
	ErrBusy       = errors.New("game: action not allowed right now")
)

const loadFailedMessage = "Could not load a new phrase. Skip to try again."

// PhraseSource hands out the next phrase for a level.
type PhraseSource interface {
	Generate(ctx context.Context, req phrase.Request) (phrase.Result, error)
}

type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d on its own goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Config struct {
	Strategy      *prompts.Strategy
	RoundDuration time.Duration
	TimeoutReveal time.Duration
	HintReveal    time.Duration
	CorrectReveal time.Duration
	SpeechMode    string
}

func (c Config) withDefaults() Config {
	if c.RoundDuration < time.Second {
		c.RoundDuration = constants.DefaultRoundDuration
	}
	if c.TimeoutReveal <= 0 {
		c.TimeoutReveal = constants.DefaultTimeoutReveal
	}
	if c.HintReveal <= 0 {
		c.HintReveal = constants.DefaultHintReveal
	}
	if c.CorrectReveal <= 0 {
		c.CorrectReveal = constants.DefaultCorrectReveal
	}
	if c.Strategy == nil {
		c.Strategy, _ = prompts.Default().Get(prompts.StrategyPhrase)
	}
	c.SpeechMode = speech.NormalizeMode(c.SpeechMode)
	return c
}

// Snapshot is the state a page needs to draw the round.
type Snapshot struct {
	Version     uint64           `json:"version"`
	Round       int              `json:"round"`
	Phase       Phase            `json:"phase"`
	Level       int              `json:"level"`
	Score       int              `json:"score"`
	TimeLeft    int              `json:"timeLeft"`
	Phrase      string           `json:"phrase"`
	Revealed    bool             `json:"revealed"`
	Translation string           `json:"translation,omitempty"`
	Verdict     *scoring.Verdict `json:"verdict,omitempty"`
	LastError   string           `json:"lastError,omitempty"`
	Speech      speech.Plan      `json:"speech"`
	Player      string           `json:"player,omitempty"`
	CanPlay     bool             `json:"canPlay"`
	CanAnswer   bool             `json:"canAnswer"`
	CanHint     bool             `json:"canHint"`
	CanSkip     bool             `json:"canSkip"`
}

type Controller struct {
	mu sync.Mutex

	cfg        Config
	phrases    PhraseSource
	translator Translator
	sched      Scheduler
	metrics    *observe.Metrics
	onChange   func(Snapshot)

	version     uint64
	epoch       uint64
	timer       Timer
	fetching    bool
	closed      bool
	round       int
	phase       Phase
	level       int
	score       int
	timeLeft    int
	phrase      string
	revealed    bool
	translation string
	verdict     *scoring.Verdict
	lastError   string
	player      string
}

type Option func(*Controller)

func WithScheduler(s Scheduler) Option {
	return func(c *Controller) {
		if s != nil {
			c.sched = s
		}
	}
}

func WithTranslator(t Translator) Option {
	return func(c *Controller) { c.translator = t }
}

func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithObserver registers f to receive a snapshot after every transition.
// f runs outside the controller lock and may see snapshots out of order;
// Version is monotonic.
func WithObserver(f func(Snapshot)) Option {
	return func(c *Controller) { c.onChange = f }
}

// WithLevel sets the starting level.
func WithLevel(level int) Option {
	return func(c *Controller) {
		c.level = lo.Clamp(level, constants.MinLevel, constants.MaxLevel)
	}
}

func New(phrases PhraseSource, cfg Config, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:     cfg,
		phrases: phrases,
		sched:   realScheduler{},
		metrics: observe.NewNop(),
		phase:   PhaseLoading,
		level:   constants.MinLevel,
	}
	c.timeLeft = c.roundSeconds()
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) roundSeconds() int {
	return int(c.cfg.RoundDuration / time.Second)
}

// SetObserver replaces the snapshot observer.
func (c *Controller) SetObserver(f func(Snapshot)) {
	c.mu.Lock()
	c.onChange = f
	c.mu.Unlock()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Version:     c.version,
		Round:       c.round,
		Phase:       c.phase,
		Level:       c.level,
		Score:       c.score,
		TimeLeft:    c.timeLeft,
		Phrase:      c.phrase,
		Revealed:    c.revealed,
		Translation: c.translation,
		LastError:   c.lastError,
		Speech:      speech.PlanFor(c.level, c.cfg.SpeechMode),
		Player:      c.player,
		CanAnswer:   c.phase == PhasePlaying,
		CanHint:     c.phase == PhasePlaying,
		CanSkip:     c.phase != PhaseLoading && c.phase != PhaseHintShown,
	}
	if c.verdict != nil {
		v := *c.verdict
		s.Verdict = &v
	}
	switch c.phase {
	case PhaseReady, PhaseSpeaking, PhasePlaying:
		s.CanPlay = c.phrase != ""
	}
	return s
}

// changedLocked bumps the version and returns the snapshot to publish.
func (c *Controller) changedLocked() Snapshot {
	c.version++
	return c.snapshotLocked()
}

func (c *Controller) publish(s Snapshot) {
	c.mu.Lock()
	f := c.onChange
	c.mu.Unlock()
	if f != nil {
		f(s)
	}
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.epoch++
}

// SetPlayer records the display name the page reports.
func (c *Controller) SetPlayer(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if utf8.RuneCountInString(name) > constants.MaxPlayerNameLen {
		name = string([]rune(name)[:constants.MaxPlayerNameLen])
	}
	c.mu.Lock()
	if c.player == name {
		c.mu.Unlock()
		return
	}
	c.player = name
	snap := c.changedLocked()
	c.mu.Unlock()
	c.publish(snap)
}

// Advance loads the next phrase at the current level. A failed load keeps
// the previous phrase and reports the failure through LastError.
func (c *Controller) Advance(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.fetching || c.closed {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrBusy
	}
	level, snap := c.beginLoadingLocked()
	c.mu.Unlock()
	c.publish(snap)
	return c.finishLoading(ctx, level)
}

// Restart drops level and score back to the start and loads a phrase.
func (c *Controller) Restart(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.fetching || c.closed {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrBusy
	}
	c.level = constants.MinLevel
	c.score = 0
	level, snap := c.beginLoadingLocked()
	c.mu.Unlock()
	c.publish(snap)
	return c.finishLoading(ctx, level)
}

func (c *Controller) beginLoadingLocked() (int, Snapshot) {
	c.stopTimerLocked()
	c.fetching = true
	c.phase = PhaseLoading
	c.revealed = false
	c.translation = ""
	c.verdict = nil
	return c.level, c.changedLocked()
}

func (c *Controller) finishLoading(ctx context.Context, level int) (Snapshot, error) {
	res, err := c.phrases.Generate(ctx, phrase.Request{Strategy: c.cfg.Strategy, Level: level})

	c.mu.Lock()
	c.fetching = false
	c.round++
	if err != nil {
		util.LogWarn(util.WithRequestID(ctx, "Round %d keeps previous phrase: %v"), c.round, err)
		c.lastError = loadFailedMessage
	} else {
		c.phrase = res.Phrase
		c.lastError = ""
	}
	c.phase = PhaseReady
	c.timeLeft = c.roundSeconds()
	snap := c.changedLocked()
	c.mu.Unlock()

	c.publish(snap)
	return snap, err
}

// BeginPlayback locks input while the phrase is voiced. Replaying during
// the countdown leaves the round playing.
func (c *Controller) BeginPlayback() (Snapshot, error) {
	c.mu.Lock()
	switch c.phase {
	case PhaseSpeaking, PhasePlaying:
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	case PhaseReady:
		if c.phrase == "" {
			snap := c.snapshotLocked()
			c.mu.Unlock()
			return snap, ErrBusy
		}
	default:
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrBusy
	}
	c.phase = PhaseSpeaking
	snap := c.changedLocked()
	c.mu.Unlock()
	c.publish(snap)
	return snap, nil
}

// PlaybackEnded unlocks input and starts the countdown. Reports that arrive
// in any phase other than speaking are ignored.
func (c *Controller) PlaybackEnded() Snapshot {
	c.mu.Lock()
	if c.phase != PhaseSpeaking {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap
	}
	c.phase = PhasePlaying
	c.stopTimerLocked()
	c.armTickLocked()
	snap := c.changedLocked()
	c.mu.Unlock()
	c.publish(snap)
	return snap
}

func (c *Controller) armTickLocked() {
	ep := c.epoch
	c.timer = c.sched.AfterFunc(constants.TickInterval, func() { c.tick(ep) })
}

func (c *Controller) tick(ep uint64) {
	c.mu.Lock()
	if ep != c.epoch || c.phase != PhasePlaying || c.closed {
		c.mu.Unlock()
		return
	}
	c.timeLeft--
	if c.timeLeft <= 0 {
		c.timeLeft = 0
		c.revealLocked(PhaseTimedOut, c.cfg.TimeoutReveal)
	} else {
		c.armTickLocked()
	}
	snap := c.changedLocked()
	c.mu.Unlock()
	c.publish(snap)
}

// revealLocked shows the phrase, fetches its translation and schedules the
// next round.
func (c *Controller) revealLocked(phase Phase, hold time.Duration) {
	c.stopTimerLocked()
	c.phase = phase
	c.revealed = true
	ep := c.epoch
	c.timer = c.sched.AfterFunc(hold, func() { c.autoAdvance(ep) })

	if c.translator != nil && c.phrase != "" {
		text := c.phrase
		c.sched.AfterFunc(0, func() { c.fetchTranslation(ep, text) })
	}
}

func (c *Controller) autoAdvance(ep uint64) {
	c.mu.Lock()
	if ep != c.epoch || c.fetching || c.closed {
		c.mu.Unlock()
		return
	}
	level, snap := c.beginLoadingLocked()
	c.mu.Unlock()
	c.publish(snap)
	if _, err := c.finishLoading(context.Background(), level); err != nil {
		util.LogWarn("Automatic advance failed: %v", err)
	}
}

func (c *Controller) fetchTranslation(ep uint64, text string) {
	tr, err := c.translator.Translate(context.Background(), text)
	if err != nil {
		util.LogWarn("Translation of %q failed: %v", text, err)
		return
	}
	c.mu.Lock()
	if ep != c.epoch || !c.revealed || c.closed {
		c.mu.Unlock()
		return
	}
	c.translation = tr
	snap := c.changedLocked()
	c.mu.Unlock()
	c.publish(snap)
}

// Submit grades input against the current phrase. Only a playing round
// accepts answers; a wrong answer resets the clock and waits for another
// listen.
func (c *Controller) Submit(ctx context.Context, input string) (Snapshot, error) {
	c.mu.Lock()
	if c.phase != PhasePlaying {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrNotPlaying
	}

	v := scoring.Grade(input, c.phrase)
	c.verdict = &v
	c.metrics.RecordAnswer(ctx, v.Correct)

	if v.Correct {
		c.score += constants.PointsPerWin
		if c.score >= constants.LevelUpScore {
			c.level = min(c.level+1, constants.MaxLevel)
			c.score = 0
			util.LogInfo(util.WithRequestID(ctx, "Player %q reached level %d"), c.player, c.level)
		}
		c.revealLocked(PhaseCorrect, c.cfg.CorrectReveal)
	} else {
		c.stopTimerLocked()
		c.phase = PhaseReady
		c.timeLeft = c.roundSeconds()
	}
	snap := c.changedLocked()
	c.mu.Unlock()

	c.publish(snap)
	return snap, nil
}

// Hint reveals the phrase for a while and then moves to the next round.
func (c *Controller) Hint() (Snapshot, error) {
	c.mu.Lock()
	if c.phase != PhasePlaying {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrNotPlaying
	}
	c.revealLocked(PhaseHintShown, c.cfg.HintReveal)
	snap := c.changedLocked()
	c.mu.Unlock()
	c.publish(snap)
	return snap, nil
}

// Skip abandons the round without scoring.
func (c *Controller) Skip(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.fetching || c.closed || c.phase == PhaseLoading || c.phase == PhaseHintShown {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrBusy
	}
	level, snap := c.beginLoadingLocked()
	c.mu.Unlock()
	c.publish(snap)
	return c.finishLoading(ctx, level)
}

// Close stops pending timers. The controller ignores every later timer.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopTimerLocked()
	c.closed = true
	c.onChange = nil
	c.mu.Unlock()
}
