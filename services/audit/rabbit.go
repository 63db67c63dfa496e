package auditsvc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/trezcool/mtihani/core"
)

var errNacked = errors.New("audit record not confirmed by broker")

// RabbitLog publishes submission records as persistent messages on a topic exchange, waiting for broker confirms.
type RabbitLog struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

var _ core.AuditLog = (*RabbitLog)(nil)

func NewRabbitLog(conf *core.Config) (*RabbitLog, error) {
	conn, err := amqp.Dial(conf.Audit.AMQPURL)
	if err != nil {
		return nil, errors.Wrap(err, "dialing rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "opening channel")
	}

	err = ch.ExchangeDeclare(
		conf.Audit.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "declaring exchange")
	}
	if err = ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "enabling publisher confirms")
	}
	return &RabbitLog{conn: conn, ch: ch, exchange: conf.Audit.Exchange}, nil
}

func (l *RabbitLog) Append(ctx context.Context, rec core.SubmissionRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encoding audit record")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	confirm, err := l.ch.PublishWithDeferredConfirmWithContext(ctx, l.exchange, eventName(rec),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    rec.ResponseSheetID + ":" + rec.AttemptLocalID,
			Timestamp:    rec.ReceivedAt,
			Body:         body,
		})
	if err != nil {
		return errors.Wrap(err, "publishing audit record")
	}
	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		return errors.Wrap(err, "waiting for broker confirm")
	}
	if !ok {
		return errNacked
	}
	return nil
}

func (l *RabbitLog) Close() error {
	if err := l.ch.Close(); err != nil {
		_ = l.conn.Close()
		return errors.Wrap(err, "closing channel")
	}
	return l.conn.Close()
}
