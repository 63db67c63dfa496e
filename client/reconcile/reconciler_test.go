package reconcile

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mtihani/client/api"
	"github.com/trezcool/mtihani/client/offline"
	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
	"github.com/trezcool/mtihani/core/question"
	"github.com/trezcool/mtihani/core/response"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// fakeServer mimics the dedup contract of the submit-offline endpoint.
type fakeServer struct {
	mu       sync.Mutex
	fail     map[string]error // by attemptLocalId
	accepted map[string]string
	calls    []response.OfflineSubmission
}

func newFakeServer() *fakeServer {
	return &fakeServer{fail: make(map[string]error), accepted: make(map[string]string)}
}

func (f *fakeServer) SubmitOffline(_ context.Context, _ string, sub response.OfflineSubmission) (response.OfflineReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sub)

	if err := f.fail[sub.AttemptLocalID]; err != nil {
		return response.OfflineReceipt{}, err
	}
	if id, found := f.accepted[sub.AttemptLocalID]; found {
		return response.OfflineReceipt{ResponseSheetID: id, Success: true, Duplicate: true}, nil
	}
	id := "sheet-" + sub.AttemptLocalID
	f.accepted[sub.AttemptLocalID] = id
	return response.OfflineReceipt{ResponseSheetID: id, Success: true}, nil
}

func openStore(t *testing.T) *offline.Store {
	t.Helper()
	s, err := offline.Open(filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	tick := now.Add(-time.Hour)
	s.SetClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})
	return s
}

func paper(id string, start, end core.ClockTime) question.Paper {
	return question.Paper{
		Evaluation: evaluation.Evaluation{
			ID:         id,
			CourseCode: "C-" + id,
			Type:       evaluation.TypeQuiz,
			Window:     evaluation.Window{PublishedDate: core.DateOf(now), StartTime: start, EndTime: end},
			Status:     evaluation.StatusPublished,
		},
		Questions: []question.StudentQuestion{},
	}
}

func newTestReconciler(store Store, submitter Submitter) *Reconciler {
	r := New(store, submitter, &core.Config{Client: core.ClientConfig{SettleDelay: 20 * time.Millisecond}}, core.NopLogger{})
	r.SetClock(func() time.Time { return now })
	return r
}

func TestReconciler_SyncPending(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.SaveEvaluations(ctx, []question.Paper{
		paper("closed", core.NewClockTime(9, 0), core.NewClockTime(10, 0)),
		paper("open", core.NewClockTime(11, 0), core.NewClockTime(13, 0)),
		paper("flaky", core.NewClockTime(9, 0), core.NewClockTime(10, 0)),
		paper("done", core.NewClockTime(9, 0), core.NewClockTime(10, 0)),
	}))

	// elapsed draft: synced
	elapsed, err := store.CreateAttempt(ctx, "closed", "S001")
	require.NoError(t, err)
	require.NoError(t, store.SaveAnswer(ctx, elapsed.AttemptLocalID, offline.Answer{QuestionID: "q1", Response: response.Open{Text: "x"}}))

	// draft still answerable: skipped
	answering, err := store.CreateAttempt(ctx, "open", "S001")
	require.NoError(t, err)

	// network failure: left pending, does not stop the others
	flaky, err := store.CreateAttempt(ctx, "flaky", "S001")
	require.NoError(t, err)
	require.NoError(t, store.MarkSubmitted(ctx, flaky.AttemptLocalID))

	// submitted online meanwhile: terminal
	done, err := store.CreateAttempt(ctx, "done", "S001")
	require.NoError(t, err)
	require.NoError(t, store.MarkSubmitted(ctx, done.AttemptLocalID))

	server := newFakeServer()
	server.fail[flaky.AttemptLocalID] = errors.New("connection refused")
	server.fail[done.AttemptLocalID] = &api.StatusError{StatusCode: http.StatusForbidden, ResponseSheetID: "sheet-online"}

	r := newTestReconciler(store, server)
	res, err := r.SyncPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: 1, Duplicates: 1, Skipped: 1, Failed: 1}, res)

	require.Len(t, server.calls, 3)
	assert.Equal(t, elapsed.AttemptLocalID, server.calls[0].AttemptLocalID, "least recently touched first")
	assert.True(t, server.calls[0].IsOfflineSubmission)
	assert.Equal(t, []response.AnswerInput{response.OpenInput("q1", "x")}, server.calls[0].Answers)

	pending, err := store.PendingAttempts(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(pending))
	for _, a := range pending {
		ids = append(ids, a.AttemptLocalID)
	}
	assert.ElementsMatch(t, []string{answering.AttemptLocalID, flaky.AttemptLocalID}, ids)

	got, err := store.GetAttempt(ctx, done.AttemptLocalID)
	require.NoError(t, err)
	assert.Equal(t, "sheet-online", got.ResponseSheetID.String)

	// the flaky attempt goes through on the next pass
	delete(server.fail, flaky.AttemptLocalID)
	res, err = r.SyncPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: 1, Skipped: 1}, res)
}

func TestReconciler_RetriedDeliveryIsDeduplicated(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	attempt, err := store.CreateAttempt(ctx, "gone", "S001")
	require.NoError(t, err)
	require.NoError(t, store.MarkSubmitted(ctx, attempt.AttemptLocalID))

	server := newFakeServer()
	server.accepted[attempt.AttemptLocalID] = "sheet-1" // the first delivery got through but its reply was lost

	res, err := newTestReconciler(store, server).SyncPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Duplicates: 1}, res)

	got, err := store.GetAttempt(ctx, attempt.AttemptLocalID)
	require.NoError(t, err)
	assert.Equal(t, offline.AttemptSynced, got.Status)
	assert.Equal(t, "sheet-1", got.ResponseSheetID.String)
}

type countingStore struct {
	Store
	passes int32
}

func (s *countingStore) PendingAttempts(ctx context.Context) ([]offline.Attempt, error) {
	atomic.AddInt32(&s.passes, 1)
	return s.Store.PendingAttempts(ctx)
}

func TestReconciler_RunDebouncesTriggers(t *testing.T) {
	store := &countingStore{Store: openStore(t)}
	r := newTestReconciler(store, newFakeServer())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	for i := 0; i < 5; i++ {
		r.Trigger()
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&store.passes) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&store.passes), "a burst of triggers makes one pass")

	r.Trigger()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&store.passes) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
