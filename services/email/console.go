package emailsvc

import (
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/trezcool/mtihani/core"
)

// NewConsoleService writes emails to stdout instead of sending them.
func NewConsoleService(conf *core.Config, logger core.Logger) core.EmailService {
	return newService(conf, logger, consoleDelivery(conf.Email.From(), os.Stdout, time.Now))
}

func consoleDelivery(from mail.Address, w io.Writer, now func() time.Time) deliverFunc {
	var mu sync.Mutex // one message at a time on w
	return func(msg core.EmailMessage) error {
		var b strings.Builder
		fmt.Fprintf(&b, "From: %s\r\n", from.String())
		fmt.Fprintf(&b, "To: %s\r\n", core.JoinAddresses(msg.To))
		fmt.Fprintf(&b, "Date: %s\r\n", now().Format(time.RFC1123Z))
		fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
		b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(msg.Text)
		b.WriteString("\r\n")

		mu.Lock()
		defer mu.Unlock()
		_, err := io.WriteString(w, b.String())
		return err
	}
}
