package speech_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/CodeAndHammer/hearsay/internal/llm/mock"
	speech "github.com/CodeAndHammer/hearsay/internal/speech"
)

func TestRate(t *testing.T) {
	cases := []struct {
		level int
		want  float64
	}{
		{1, 0.8}, {2, 0.9}, {3, 1.0}, {10, 1.7}, {0, 0.8}, {15, 1.7},
	}
	for _, c := range cases {
		if got := speech.Rate(c.level); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("Rate(%d) = %v, want %v", c.level, got, c.want)
		}
	}
}

func TestPlanFor(t *testing.T) {
	p := speech.PlanFor(4, "SERVER")
	if p.Mode != "server" || p.Lang != "en-US" {
		t.Errorf("plan = %+v", p)
	}
	if speech.PlanFor(1, "whatever").Mode != "device" {
		t.Error("unknown mode should fall back to device")
	}
}

func TestAudioURL(t *testing.T) {
	synth := &mock.Synthesizer{Audio: []byte("hi")}
	svc := speech.NewService(synth, 0, nil)

	url, err := svc.AudioURL(context.Background(), "hello")
	if err != nil {
		t.Fatalf("AudioURL: %v", err)
	}
	if url != "data:audio/mp3;base64,aGk=" {
		t.Errorf("AudioURL = %q", url)
	}
	if len(synth.Texts) != 1 || synth.Texts[0] != "hello" {
		t.Errorf("synthesizer saw %v", synth.Texts)
	}
}

func TestAudioURLErrors(t *testing.T) {
	svc := speech.NewService(&mock.Synthesizer{Err: errors.New("tts down")}, 0, nil)
	if _, err := svc.AudioURL(context.Background(), "hello"); err == nil {
		t.Error("expected synthesizer error")
	}
	if _, err := svc.AudioURL(context.Background(), "   "); !errors.Is(err, speech.ErrEmptyText) {
		t.Errorf("blank text error = %v", err)
	}
}
