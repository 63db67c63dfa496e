package emailsvc

import (
	"fmt"

	"github.com/trezcool/mtihani/core"
)

// deliverFunc puts one rendered message on the wire.
type deliverFunc func(msg core.EmailMessage) error

// service renders messages and hands them to a delivery backend, one goroutine per message.
type service struct {
	deliver    deliverFunc
	subjPrefix string
	logger     core.Logger
	sync       bool // tests
}

var _ core.EmailService = (*service)(nil)

func newService(conf *core.Config, logger core.Logger, deliver deliverFunc) *service {
	return &service{deliver: deliver, subjPrefix: "[" + conf.AppName + "] ", logger: logger}
}

func (svc *service) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		if svc.sync {
			svc.send(msg)
			continue
		}
		go svc.send(msg)
	}
}

func (svc *service) send(msg *core.EmailMessage) {
	if err := msg.Render(); err != nil {
		svc.logger.Error(fmt.Sprintf("email %q: %v", msg.Subject, err), err)
		return
	}
	if !msg.Sendable() {
		return
	}

	out := *msg
	out.Subject = svc.subjPrefix + msg.Subject
	if err := svc.deliver(out); err != nil {
		svc.logger.Error(fmt.Sprintf("sending %q to %s: %v", out.Subject, core.JoinAddresses(out.To), err), err)
	}
}
