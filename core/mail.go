package core

import (
	"net/mail"
	"strings"
	texttmpl "text/template"

	"github.com/pkg/errors"
)

type (
	// EmailMessage is a plain-text email. Text wins over Template when both are set.
	EmailMessage struct {
		To       []mail.Address
		Subject  string
		Template *texttmpl.Template
		Data     interface{}
		Text     string
	}

	// EmailService sends emails without blocking the caller; delivery errors are logged, never returned.
	EmailService interface {
		SendMessages(messages ...*EmailMessage)
	}
)

// Render fills Text from the template.
func (m *EmailMessage) Render() error {
	if m.Text != "" || m.Template == nil {
		return nil
	}
	var body strings.Builder
	if err := m.Template.Execute(&body, m.Data); err != nil {
		return errors.Wrapf(err, "rendering %q", m.Template.Name())
	}
	m.Text = body.String()
	return nil
}

// Sendable tells whether the message has someone to go to and something to say.
func (m *EmailMessage) Sendable() bool { return len(m.To) > 0 && m.Text != "" }

// ParseAddresses parses raw addresses, skipping the invalid ones.
func ParseAddresses(raw []string) []mail.Address {
	addrs := make([]mail.Address, 0, len(raw))
	for _, r := range raw {
		if a, err := mail.ParseAddress(r); err == nil {
			addrs = append(addrs, *a)
		}
	}
	return addrs
}

// JoinAddresses formats addrs as a header value.
func JoinAddresses(addrs []mail.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}
