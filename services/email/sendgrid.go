package emailsvc

import (
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/mtihani/core"
)

// NewSendgridService sends through the SendGrid v3 API. In test mode SendGrid validates messages without
// delivering them.
func NewSendgridService(conf *core.Config, logger core.Logger) core.EmailService {
	client := sendgrid.NewSendClient(conf.Email.SendgridAPIKey)
	sg := sendgridMail{
		from:     conf.Email.From(),
		category: strings.ToLower(conf.AppName),
		sandbox:  conf.TestMode,
	}
	return newService(conf, logger, func(msg core.EmailMessage) error {
		res, err := client.Send(sg.build(msg))
		if err != nil {
			return err
		}
		if res.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("sendgrid status %d: %s", res.StatusCode, res.Body)
		}
		return nil
	})
}

type sendgridMail struct {
	from     mail.Address
	category string
	sandbox  bool
}

func (sg sendgridMail) build(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	for _, to := range msg.To {
		p.AddTos(sgmail.NewEmail(to.Name, to.Address))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(sgmail.NewEmail(sg.from.Name, sg.from.Address))
	m.Subject = msg.Subject
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	if sg.category != "" {
		m.AddCategories(sg.category)
	}
	if sg.sandbox {
		settings := sgmail.NewMailSettings()
		settings.SetSandboxMode(sgmail.NewSetting(true))
		m.SetMailSettings(settings)
	}
	return m
}
