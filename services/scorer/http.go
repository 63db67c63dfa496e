package scorersvc

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/grading"
)

type StatusError struct {
	StatusCode int
	Body       string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("scorer responded with status %d: %s", e.StatusCode, e.Body)
}

// HTTPScorer delegates open-answer grading to a remote scoring service.
type HTTPScorer struct {
	url     string
	apiKey  string
	timeout time.Duration
	client  *rest.Client
}

var _ grading.Scorer = (*HTTPScorer)(nil)

func NewHTTPScorer(conf *core.Config) *HTTPScorer {
	return &HTTPScorer{
		url:     conf.Scorer.URL,
		apiKey:  conf.Scorer.APIKey,
		timeout: conf.Scorer.Timeout,
		client:  &rest.Client{HTTPClient: &http.Client{}},
	}
}

func (s *HTTPScorer) Score(ctx context.Context, req grading.ScoreRequest) (grading.Score, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return grading.Score{}, errors.Wrap(err, "encoding score request")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	headers := map[string]string{"Content-Type": "application/json", "Accept": "application/json"}
	if s.apiKey != "" {
		headers["Authorization"] = "Bearer " + s.apiKey
	}
	res, err := s.client.SendWithContext(ctx, rest.Request{
		Method:  rest.Post,
		BaseURL: s.url,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return grading.Score{}, errors.Wrap(err, "calling scorer")
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return grading.Score{}, StatusError{StatusCode: res.StatusCode, Body: res.Body}
	}

	var score grading.Score
	if err = json.Unmarshal([]byte(res.Body), &score); err != nil {
		return grading.Score{}, errors.Wrap(err, "decoding scorer response")
	}
	if math.IsNaN(score.Score) {
		return grading.Score{}, errors.New("scorer returned NaN")
	}
	score.Score = clamp(score.Score, 0, req.MaxScore)
	score.Confidence = clamp(score.Confidence, 0, 1)
	if score.Source == "" {
		score.Source = grading.SourceAutomated
	}
	return score, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
