package core

import (
	"context"
	"net/http"
	"time"
)

type (
	// SubmissionRecord is one accepted (or deduplicated) submission, kept for audit and dispute resolution.
	SubmissionRecord struct {
		AttemptLocalID  string    `json:"attemptLocalId,omitempty"`
		ResponseSheetID string    `json:"responseSheetId"`
		Matricule       string    `json:"matricule"`
		EvaluationID    string    `json:"evaluationId"`
		AnswerCount     int       `json:"answerCount"`
		Offline         bool      `json:"offline"`
		Duplicate       bool      `json:"duplicate"`
		SubmittedAt     time.Time `json:"submittedAt"`
		ReceivedAt      time.Time `json:"receivedAt"`
	}

	// AuditLog is a durable append-only log. There is no read path.
	AuditLog interface {
		Append(ctx context.Context, rec SubmissionRecord) error
	}

	// Locker serializes work on a key across API instances.
	Locker interface {
		// Acquire returns ErrLocked when another holder owns key.
		Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
	}
)

var ErrLocked = NewStateError(http.StatusConflict, "resource is locked, retry later")
