package scorersvc

import (
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/mtihani/core/grading"
)

const SourceSimilarity = "similarity"

// SimilarityScorer grades open answers offline by their word-level resemblance to the reference answer.
type SimilarityScorer struct{}

var _ grading.Scorer = SimilarityScorer{}

func NewSimilarityScorer() SimilarityScorer { return SimilarityScorer{} }

func (SimilarityScorer) Score(_ context.Context, req grading.ScoreRequest) (grading.Score, error) {
	ref := words(req.ReferenceAnswer)
	if len(ref) == 0 {
		return grading.Score{}, fmt.Errorf("no reference answer to compare with")
	}

	ratio := difflib.NewMatcher(ref, words(req.StudentAnswer)).Ratio()
	return grading.Score{
		Score:      clamp(ratio*req.MaxScore, 0, req.MaxScore),
		Feedback:   fmt.Sprintf("%.0f%% similar to the reference answer", ratio*100),
		Confidence: ratio,
		Source:     SourceSimilarity,
	}, nil
}

func words(s string) []string {
	return strings.Fields(strings.ToLower(s))
}
