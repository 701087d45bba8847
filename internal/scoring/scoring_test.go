package scoring_test

import (
	"math"
	"testing"

	scoring "github.com/CodeAndHammer/hearsay/internal/scoring"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSimilarity(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		target string
		want   float64
	}{
		{"exact", "hello world", "hello world", 1.0},
		{"case and space", "  Hello World ", "hello world", 1.0},
		{"input inside target", "cat", "the cat sat", 0.8},
		{"target inside input", "the cat sat down", "the cat sat", 0.8},
		{"one shared word of three", "the big cat", "a big dog", 1.0 / 3.0},
		{"nothing shared", "xyz", "hello", 0},
		{"scrambled words", "world hello", "hello world", 1.0},
		{"longer input dilutes", "good morning my dear friend", "good evening friend", 2.0 / 5.0},
		{"empty input", "", "hello world", 0},
		{"both empty", "  ", "", 1.0},
		{"repeated input word counts each time", "go go go", "go to bed", 1.0},
		{"repeats of one target word", "the the the", "the cat sat", 1.0},
		{"repeats beside a miss", "go go home", "go to bed", 2.0 / 3.0},
		{"repeat of a missing word", "bed bed", "go to sleep", 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := scoring.Similarity(c.input, c.target)
			if !almostEqual(got, c.want) {
				t.Errorf("Similarity(%q, %q) = %v, want %v", c.input, c.target, got, c.want)
			}
		})
	}
}

func TestSimilarityIsDeterministic(t *testing.T) {
	first := scoring.Similarity("see you later alligator", "see you soon alligator")
	for i := 0; i < 10; i++ {
		if got := scoring.Similarity("see you later alligator", "see you soon alligator"); got != first {
			t.Fatalf("Similarity changed between calls: %v then %v", first, got)
		}
	}
}

func TestIsCorrect(t *testing.T) {
	if !scoring.IsCorrect("hello world", "Hello world") {
		t.Error("exact answer should be correct")
	}
	if !scoring.IsCorrect("cat", "the cat sat") {
		t.Error("substring answer should be correct")
	}
	if scoring.IsCorrect("the big cat", "a big dog") {
		t.Error("one word in three should not be correct")
	}
	if !scoring.IsCorrect("i am very hungry today", "i am so hungry today") {
		t.Error("four of five words should be correct")
	}
}

func TestGradeNearMiss(t *testing.T) {
	v := scoring.Grade("recieve", "receive")
	if v.Correct {
		t.Error("misspelling should not be correct")
	}
	if !v.NearMiss {
		t.Error("transposed letters should be a near miss")
	}

	v = scoring.Grade("xyz", "hello")
	if v.Correct || v.NearMiss {
		t.Errorf("unrelated answer graded %+v", v)
	}

	v = scoring.Grade("hello world", "hello world")
	if !v.Correct || v.NearMiss || v.Similarity != 1.0 {
		t.Errorf("exact answer graded %+v", v)
	}
}
