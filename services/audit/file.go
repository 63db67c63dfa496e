package auditsvc

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/trezcool/mtihani/core"
)

const fileName = "submissions.log"

// FileLog appends one JSON line per submission to a rotating file.
type FileLog struct {
	core   zapcore.Core
	closer *lumberjack.Logger
}

var _ core.AuditLog = (*FileLog)(nil)

func NewFileLog(conf *core.Config) (*FileLog, error) {
	dir := conf.Audit.Directory
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating audit directory")
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(dir, fileName),
		MaxSize:    conf.Audit.MaxSize,
		MaxBackups: conf.Audit.MaxBackups,
		MaxAge:     conf.Audit.MaxAge,
		Compress:   true,
	}
	encoderConfig := zapcore.EncoderConfig{
		MessageKey: "event",
		TimeKey:    "time",
		EncodeTime: zapcore.ISO8601TimeEncoder,
	}
	return &FileLog{
		core:   zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(writer), zapcore.InfoLevel),
		closer: writer,
	}, nil
}

func (l *FileLog) Append(_ context.Context, rec core.SubmissionRecord) error {
	entry := zapcore.Entry{Level: zapcore.InfoLevel, Time: rec.ReceivedAt, Message: eventName(rec)}
	if err := l.core.Write(entry, recordFields(rec)); err != nil {
		return errors.Wrap(err, "writing audit record")
	}
	return nil
}

func (l *FileLog) Close() error {
	return l.closer.Close()
}

func eventName(rec core.SubmissionRecord) string {
	switch {
	case rec.Duplicate:
		return "submission.duplicate"
	case rec.Offline:
		return "submission.offline"
	default:
		return "submission.online"
	}
}

func recordFields(rec core.SubmissionRecord) []zap.Field {
	return []zap.Field{
		zap.String("attemptLocalId", rec.AttemptLocalID),
		zap.String("responseSheetId", rec.ResponseSheetID),
		zap.String("matricule", rec.Matricule),
		zap.String("evaluationId", rec.EvaluationID),
		zap.Int("answerCount", rec.AnswerCount),
		zap.Bool("offline", rec.Offline),
		zap.Bool("duplicate", rec.Duplicate),
		zap.Time("submittedAt", rec.SubmittedAt),
	}
}
