package game_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	game "github.com/CodeAndHammer/hearsay/internal/game"
	"github.com/CodeAndHammer/hearsay/internal/game/gametest"
	"github.com/CodeAndHammer/hearsay/internal/llm/mock"
	phrase "github.com/CodeAndHammer/hearsay/internal/phrase"
	phrasecache "github.com/CodeAndHammer/hearsay/internal/phrasecache"
	translate "github.com/CodeAndHammer/hearsay/internal/translate"
)

type fixture struct {
	ctrl  *game.Controller
	sched *gametest.Scheduler
	gen   *mock.Generator
}

func newFixture(t *testing.T, opts []game.Option, responses ...string) *fixture {
	t.Helper()
	gen := &mock.Generator{Responses: responses}
	sched := gametest.New()
	tr := translate.New(&mock.Generator{Responses: []string{"buenos días"}}, "", 0, nil)
	opts = append([]game.Option{game.WithScheduler(sched), game.WithTranslator(tr)}, opts...)
	ctrl := game.New(phrase.New(gen, phrasecache.New()), game.Config{}, opts...)
	if _, err := ctrl.Advance(context.Background()); err != nil {
		t.Fatalf("first Advance: %v", err)
	}
	return &fixture{ctrl: ctrl, sched: sched, gen: gen}
}

func (f *fixture) play(t *testing.T) {
	t.Helper()
	if _, err := f.ctrl.BeginPlayback(); err != nil {
		t.Fatalf("BeginPlayback: %v", err)
	}
	if s := f.ctrl.PlaybackEnded(); s.Phase != game.PhasePlaying {
		t.Fatalf("phase after playback = %s, want playing", s.Phase)
	}
}

func TestFirstRoundIsReady(t *testing.T) {
	f := newFixture(t, nil, "good morning")
	s := f.ctrl.Snapshot()
	if s.Phase != game.PhaseReady || s.Phrase != "good morning" || s.Round != 1 {
		t.Errorf("snapshot = %+v", s)
	}
	if s.Level != 1 || s.Score != 0 || s.TimeLeft != 30 {
		t.Errorf("level/score/time = %d/%d/%d", s.Level, s.Score, s.TimeLeft)
	}
	if s.Revealed || !s.CanPlay || s.CanAnswer || s.CanHint || !s.CanSkip {
		t.Errorf("flags = %+v", s)
	}
	if s.Speech.Rate != 0.8 || s.Speech.Mode != "device" {
		t.Errorf("speech = %+v", s.Speech)
	}
}

func TestInputLockedUntilPlaybackEnds(t *testing.T) {
	f := newFixture(t, nil, "good morning")
	ctx := context.Background()

	if _, err := f.ctrl.Submit(ctx, "good morning"); !errors.Is(err, game.ErrNotPlaying) {
		t.Errorf("Submit while ready: %v", err)
	}
	s, err := f.ctrl.BeginPlayback()
	if err != nil || s.Phase != game.PhaseSpeaking {
		t.Fatalf("BeginPlayback = %s, %v", s.Phase, err)
	}
	if _, err := f.ctrl.Submit(ctx, "good morning"); !errors.Is(err, game.ErrNotPlaying) {
		t.Errorf("Submit while speaking: %v", err)
	}
	if _, err := f.ctrl.Hint(); !errors.Is(err, game.ErrNotPlaying) {
		t.Errorf("Hint while speaking: %v", err)
	}
	f.sched.Advance(10 * time.Second)
	if got := f.ctrl.Snapshot().TimeLeft; got != 30 {
		t.Errorf("clock ran during playback: %d", got)
	}
	if s := f.ctrl.PlaybackEnded(); !s.CanAnswer {
		t.Error("input should unlock after playback")
	}
}

func TestCountdownTimesOutAndAdvances(t *testing.T) {
	f := newFixture(t, nil, "good morning", "see you later")
	f.play(t)

	f.sched.Advance(5 * time.Second)
	if got := f.ctrl.Snapshot().TimeLeft; got != 25 {
		t.Errorf("TimeLeft = %d, want 25", got)
	}

	f.sched.Advance(25 * time.Second)
	s := f.ctrl.Snapshot()
	if s.Phase != game.PhaseTimedOut || !s.Revealed || s.TimeLeft != 0 {
		t.Fatalf("after timeout = %+v", s)
	}
	if s.Translation != "buenos días" {
		t.Errorf("Translation = %q", s.Translation)
	}

	f.sched.Advance(2 * time.Second)
	if got := f.ctrl.Snapshot().Phase; got != game.PhaseTimedOut {
		t.Errorf("advanced before the reveal ended: %s", got)
	}
	f.sched.Advance(time.Second)
	s = f.ctrl.Snapshot()
	if s.Phase != game.PhaseReady || s.Round != 2 || s.Phrase != "see you later" || s.Revealed {
		t.Errorf("next round = %+v", s)
	}
	if s.Score != 0 {
		t.Errorf("timeout should not score, got %d", s.Score)
	}
}

func TestIncorrectAnswerResetsClock(t *testing.T) {
	f := newFixture(t, nil, "good morning")
	f.play(t)
	f.sched.Advance(12 * time.Second)

	s, err := f.ctrl.Submit(context.Background(), "bad evening")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if s.Phase != game.PhaseReady || s.TimeLeft != 30 || s.Score != 0 {
		t.Errorf("after miss = %+v", s)
	}
	if s.Verdict == nil || s.Verdict.Correct {
		t.Errorf("verdict = %+v", s.Verdict)
	}
	if s.Revealed {
		t.Error("a miss must not reveal the phrase")
	}

	f.sched.Advance(time.Minute)
	if got := f.ctrl.Snapshot(); got.TimeLeft != 30 || got.Phase != game.PhaseReady {
		t.Errorf("stale tick fired after miss: %+v", got)
	}

	f.play(t)
	if s, _ := f.ctrl.Submit(context.Background(), "Good Morning"); !s.Verdict.Correct {
		t.Error("retry after a miss should be graded")
	}
}

func TestCorrectAnswerScoresAndAdvances(t *testing.T) {
	f := newFixture(t, nil, "good morning", "nice to meet you")
	f.play(t)

	s, err := f.ctrl.Submit(context.Background(), "good morning")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if s.Phase != game.PhaseCorrect || s.Score != 10 || !s.Revealed {
		t.Errorf("after hit = %+v", s)
	}
	f.sched.Advance(2 * time.Second)
	s = f.ctrl.Snapshot()
	if s.Phase != game.PhaseReady || s.Phrase != "nice to meet you" || s.Score != 10 {
		t.Errorf("next round = %+v", s)
	}
	if s.Verdict != nil {
		t.Error("verdict should clear on a new round")
	}
}

func TestScoreRolloverRaisesLevel(t *testing.T) {
	f := newFixture(t, nil, "good morning")
	for i := 0; i < 10; i++ {
		f.play(t)
		phrase := f.ctrl.Snapshot().Phrase
		if _, err := f.ctrl.Submit(context.Background(), phrase); err != nil {
			t.Fatalf("round %d: %v", i+1, err)
		}
		f.sched.Advance(2 * time.Second)
	}
	s := f.ctrl.Snapshot()
	if s.Level != 2 || s.Score != 0 {
		t.Errorf("level/score = %d/%d, want 2/0", s.Level, s.Score)
	}
	if s.Speech.Rate < 0.89 || s.Speech.Rate > 0.91 {
		t.Errorf("rate at level 2 = %v", s.Speech.Rate)
	}
}

func TestLevelIsCapped(t *testing.T) {
	f := newFixture(t, []game.Option{game.WithLevel(10)}, "good morning")
	for i := 0; i < 10; i++ {
		f.play(t)
		if _, err := f.ctrl.Submit(context.Background(), f.ctrl.Snapshot().Phrase); err != nil {
			t.Fatalf("round %d: %v", i+1, err)
		}
		f.sched.Advance(2 * time.Second)
	}
	if s := f.ctrl.Snapshot(); s.Level != 10 || s.Score != 0 {
		t.Errorf("level/score = %d/%d, want 10/0", s.Level, s.Score)
	}
}

func TestHintRevealsThenAdvances(t *testing.T) {
	f := newFixture(t, nil, "good morning", "take care")
	f.play(t)

	s, err := f.ctrl.Hint()
	if err != nil || s.Phase != game.PhaseHintShown || !s.Revealed {
		t.Fatalf("Hint = %+v, %v", s, err)
	}
	if _, err := f.ctrl.Skip(context.Background()); !errors.Is(err, game.ErrBusy) {
		t.Errorf("Skip during hint: %v", err)
	}
	f.sched.Flush()
	if got := f.ctrl.Snapshot().Translation; got != "buenos días" {
		t.Errorf("Translation = %q", got)
	}
	f.sched.Advance(4 * time.Second)
	if got := f.ctrl.Snapshot().Phase; got != game.PhaseHintShown {
		t.Errorf("phase at 4s = %s", got)
	}
	f.sched.Advance(time.Second)
	if s := f.ctrl.Snapshot(); s.Phase != game.PhaseReady || s.Phrase != "take care" {
		t.Errorf("after hint = %+v", s)
	}
}

func TestSkipDiscardsRunningTimers(t *testing.T) {
	f := newFixture(t, nil, "good morning", "how are you")
	f.play(t)
	f.sched.Advance(3 * time.Second)

	s, err := f.ctrl.Skip(context.Background())
	if err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if s.Phase != game.PhaseReady || s.Phrase != "how are you" || s.TimeLeft != 30 || s.Score != 0 {
		t.Errorf("after skip = %+v", s)
	}
	f.sched.Advance(time.Minute)
	if got := f.ctrl.Snapshot(); got.TimeLeft != 30 || got.Round != 2 {
		t.Errorf("old round's timers leaked: %+v", got)
	}
}

func TestSkipDuringRevealCancelsAutoAdvance(t *testing.T) {
	f := newFixture(t, nil, "one", "two", "three")
	f.play(t)
	if _, err := f.ctrl.Submit(context.Background(), "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ctrl.Skip(context.Background()); err != nil {
		t.Fatalf("Skip during correct reveal: %v", err)
	}
	f.sched.Advance(10 * time.Second)
	if s := f.ctrl.Snapshot(); s.Round != 2 || s.Phrase != "two" {
		t.Errorf("reveal timer advanced again: %+v", s)
	}
}

func TestReplayWhilePlayingKeepsClock(t *testing.T) {
	f := newFixture(t, nil, "good morning")
	f.play(t)
	f.sched.Advance(4 * time.Second)
	s, err := f.ctrl.BeginPlayback()
	if err != nil || s.Phase != game.PhasePlaying || s.TimeLeft != 26 {
		t.Errorf("replay = %+v, %v", s, err)
	}
}

func TestFailedLoadKeepsPreviousPhrase(t *testing.T) {
	f := newFixture(t, nil, "good morning")
	f.gen.SetErr(errors.New("provider down"))

	s, err := f.ctrl.Skip(context.Background())
	if !errors.Is(err, phrase.ErrGeneration) {
		t.Errorf("Skip error = %v", err)
	}
	if s.Phase != game.PhaseReady || s.Phrase != "good morning" || s.LastError == "" {
		t.Errorf("degraded round = %+v", s)
	}

	f.gen.SetErr(nil)
	f.gen.Responses = []string{"back again"}
	if s, _ := f.ctrl.Skip(context.Background()); s.LastError != "" {
		t.Errorf("LastError should clear, got %q", s.LastError)
	}
}

type blockingSource struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingSource) Generate(ctx context.Context, _ phrase.Request) (phrase.Result, error) {
	b.started <- struct{}{}
	<-b.release
	return phrase.Result{Phrase: "late arrival", Attempts: 1}, nil
}

func TestActionsRejectedWhileLoading(t *testing.T) {
	src := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	ctrl := game.New(src, game.Config{}, game.WithScheduler(gametest.New()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = ctrl.Advance(context.Background())
	}()
	<-src.started

	if got := ctrl.Snapshot().Phase; got != game.PhaseLoading {
		t.Errorf("phase = %s, want loading", got)
	}
	if _, err := ctrl.Skip(context.Background()); !errors.Is(err, game.ErrBusy) {
		t.Errorf("Skip while loading: %v", err)
	}
	if _, err := ctrl.Advance(context.Background()); !errors.Is(err, game.ErrBusy) {
		t.Errorf("Advance while loading: %v", err)
	}
	if _, err := ctrl.BeginPlayback(); !errors.Is(err, game.ErrBusy) {
		t.Errorf("BeginPlayback while loading: %v", err)
	}

	close(src.release)
	<-done
	if s := ctrl.Snapshot(); s.Phase != game.PhaseReady || s.Phrase != "late arrival" {
		t.Errorf("after load = %+v", s)
	}
}

func TestObserverSeesEveryTransition(t *testing.T) {
	var mu sync.Mutex
	var phases []game.Phase
	var last uint64
	observer := func(s game.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.Version <= last {
			t.Errorf("version went from %d to %d", last, s.Version)
		}
		last = s.Version
		phases = append(phases, s.Phase)
	}
	f := newFixture(t, []game.Option{game.WithObserver(observer)}, "good morning")
	f.play(t)

	mu.Lock()
	defer mu.Unlock()
	want := []game.Phase{game.PhaseLoading, game.PhaseReady, game.PhaseSpeaking, game.PhasePlaying}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phases[%d] = %s, want %s", i, phases[i], want[i])
		}
	}
}

func TestRestartResetsProgress(t *testing.T) {
	f := newFixture(t, []game.Option{game.WithLevel(4)}, "good morning", "fresh start")
	f.play(t)
	if _, err := f.ctrl.Submit(context.Background(), "good morning"); err != nil {
		t.Fatal(err)
	}
	s, err := f.ctrl.Restart(context.Background())
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if s.Level != 1 || s.Score != 0 || s.Phase != game.PhaseReady {
		t.Errorf("after restart = %+v", s)
	}
}

func TestCloseStopsTimers(t *testing.T) {
	f := newFixture(t, nil, "good morning")
	f.play(t)
	f.ctrl.Close()
	f.sched.Advance(time.Minute)
	if s := f.ctrl.Snapshot(); s.TimeLeft != 30 || s.Phase != game.PhasePlaying {
		t.Errorf("timers ran after Close: %+v", s)
	}
}

func TestSetPlayerTrimsAndBounds(t *testing.T) {
	f := newFixture(t, nil, "good morning")
	f.ctrl.SetPlayer("  Ada  ")
	if got := f.ctrl.Snapshot().Player; got != "Ada" {
		t.Errorf("Player = %q", got)
	}
	long := "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz"
	f.ctrl.SetPlayer(long)
	if got := f.ctrl.Snapshot().Player; len(got) != 40 {
		t.Errorf("Player length = %d, want 40", len(got))
	}
}
