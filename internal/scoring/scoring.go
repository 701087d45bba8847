// Package scoring grades what a player typed against the phrase they heard.
//
// The match is intentionally lenient: exact matches score 1.0, containment
// scores 0.8 and anything else scores by shared words. Word order is ignored.
package scoring

import (
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/samber/lo"

	constants "github.com/CodeAndHammer/hearsay/internal/constants"
)

// Verdict is the outcome of grading one answer.
type Verdict struct {
	Similarity float64 `json:"similarity"`
	Correct    bool    `json:"correct"`
	NearMiss   bool    `json:"nearMiss"`
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Similarity returns a score in [0, 1] for input against target.
func Similarity(input, target string) float64 {
	s1 := normalize(input)
	s2 := normalize(target)

	if s1 == s2 {
		return constants.SimilarityExact
	}
	if s1 == "" || s2 == "" {
		return 0
	}
	if strings.Contains(s1, s2) || strings.Contains(s2, s1) {
		return constants.SimilaritySubstring
	}

	inputWords := strings.Fields(s1)
	targetWords := strings.Fields(s2)

	// repeats in the input each count when the word is anywhere in the target
	matched := lo.CountBy(inputWords, func(word string) bool {
		return lo.Contains(targetWords, word)
	})

	longest := max(len(inputWords), len(targetWords))
	if longest == 0 {
		return 0
	}
	return float64(matched) / float64(longest)
}

// IsCorrect reports whether input is close enough to target to count.
func IsCorrect(input, target string) bool {
	return Similarity(input, target) >= constants.AcceptThreshold
}

// Grade scores input and, for wrong answers, flags spelling that is
// character-wise close to the target.
func Grade(input, target string) Verdict {
	sim := Similarity(input, target)
	v := Verdict{
		Similarity: sim,
		Correct:    sim >= constants.AcceptThreshold,
	}
	if !v.Correct {
		s1, s2 := normalize(input), normalize(target)
		if s1 != "" && s2 != "" {
			v.NearMiss = matchr.JaroWinkler(s1, s2, false) >= constants.NearMissThreshold
		}
	}
	return v
}
