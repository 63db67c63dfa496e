// Package api talks to the Mtihani server on behalf of a student device.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/mtihani/core/question"
	"github.com/trezcool/mtihani/core/response"
)

// StatusError is a non-2xx reply.
type StatusError struct {
	StatusCode int
	Message    string
	// ResponseSheetID is set when the server reports the sheet as already submitted.
	ResponseSheetID string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server responded %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same call later may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusTooManyRequests
}

// AlreadySubmitted reports whether the server already holds a submitted sheet for the attempt.
func (e *StatusError) AlreadySubmitted() bool {
	return e.StatusCode == http.StatusForbidden && e.ResponseSheetID != ""
}

type errorBody struct {
	Error           interface{} `json:"error"`
	ResponseSheetID string      `json:"responseSheetId"`
}

type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *rest.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api",
		token:   token,
		timeout: timeout,
		http:    &rest.Client{HTTPClient: &http.Client{}},
	}
}

func (c *Client) do(ctx context.Context, method rest.Method, path string, in, out interface{}) error {
	req := rest.Request{
		Method:  method,
		BaseURL: c.baseURL + path,
		Headers: map[string]string{
			"Accept":        "application/json",
			"Authorization": "Bearer " + c.token,
		},
	}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encoding request")
		}
		req.Body = body
		req.Headers["Content-Type"] = "application/json"
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	res, err := c.http.SendWithContext(ctx, req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return statusError(res)
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal([]byte(res.Body), out), "decoding response")
}

func statusError(res *rest.Response) *StatusError {
	se := &StatusError{StatusCode: res.StatusCode, Message: strings.TrimSpace(res.Body)}
	var body errorBody
	if err := json.Unmarshal([]byte(res.Body), &body); err == nil {
		se.ResponseSheetID = body.ResponseSheetID
		if msg, ok := body.Error.(string); ok {
			se.Message = msg
		}
	}
	return se
}

// Evaluations downloads the Published and Completed evaluations with their questions.
func (c *Client) Evaluations(ctx context.Context) ([]question.Paper, error) {
	var papers []question.Paper
	err := c.do(ctx, rest.Get, "/evaluation/student", nil, &papers)
	return papers, err
}

func (c *Client) Start(ctx context.Context, evaluationID string, sr response.StartRequest) (response.StartResult, error) {
	var res response.StartResult
	err := c.do(ctx, rest.Post, "/evaluation/"+evaluationID+"/start", sr, &res)
	return res, err
}

func (c *Client) SaveAnswers(ctx context.Context, sheetID string, answers []response.AnswerInput) error {
	return c.do(ctx, rest.Post, "/evaluation/response/"+sheetID+"/answers", response.AnswersRequest{Answers: answers}, nil)
}

func (c *Client) Submit(ctx context.Context, sheetID string, answers []response.AnswerInput) error {
	return c.do(ctx, rest.Post, "/evaluation/response/"+sheetID+"/submit", response.AnswersRequest{Answers: answers}, nil)
}

// SubmitOffline replays an attempt. sheetRef is a known sheet id or response.NewSheetRef.
func (c *Client) SubmitOffline(ctx context.Context, sheetRef string, sub response.OfflineSubmission) (response.OfflineReceipt, error) {
	var receipt response.OfflineReceipt
	err := c.do(ctx, rest.Post, "/responseSheet/"+sheetRef+"/submit-offline", sub, &receipt)
	return receipt, err
}
