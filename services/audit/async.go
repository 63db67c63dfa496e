package auditsvc

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
)

const (
	maxAttempts  = 3
	retryBackoff = 200 * time.Millisecond
)

// AsyncLog hands records over to a background writer so submissions never wait on the sink.
// Append blocks when the buffer is full; records are never dropped on purpose.
type AsyncLog struct {
	sink   core.AuditLog
	logger core.Logger
	queue  chan core.SubmissionRecord
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ core.AuditLog = (*AsyncLog)(nil)

func NewAsyncLog(sink core.AuditLog, buffer int, logger core.Logger) *AsyncLog {
	vala.BeginValidation().Validate(
		core.NotNil(sink, "sink"),
		core.NotNil(logger, "logger"),
	).CheckAndPanic()

	l := &AsyncLog{sink: sink, logger: logger, queue: make(chan core.SubmissionRecord, buffer)}
	l.wg.Add(1)
	go l.run()
	return l
}

// ErrClosed is returned by Append once Close was called.
var ErrClosed = errors.New("audit log is closed")

func (l *AsyncLog) Append(ctx context.Context, rec core.SubmissionRecord) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.queue <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *AsyncLog) run() {
	defer l.wg.Done()
	for rec := range l.queue {
		l.write(rec)
	}
}

func (l *AsyncLog) write(rec core.SubmissionRecord) {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = l.sink.Append(context.Background(), rec); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt) * retryBackoff)
	}
	l.logger.Error(fmt.Sprintf("audit record of sheet %s lost: %v", rec.ResponseSheetID, err), err, rec)
}

// Close flushes the buffered records, then closes the sink. Later appends fail with ErrClosed.
func (l *AsyncLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()
	if c, ok := l.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type nopLog struct{}

// NewNopLog returns an AuditLog that keeps nothing.
func NewNopLog() core.AuditLog { return &nopLog{} }

func (*nopLog) Append(context.Context, core.SubmissionRecord) error { return nil }
