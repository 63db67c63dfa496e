package grading

import (
	"context"
	"net/mail"
	texttmpl "text/template"

	"github.com/trezcool/mtihani/core"
)

var partialTmpl = texttmpl.Must(texttmpl.New("partial").Parse(`Response sheet {{.SheetID}} ({{.Matricule}}) of evaluation {{.EvaluationID}} was only partially graded.

{{len .Failed}} answer(s) could not be scored and need a manual review:
{{range .Failed}}  - question {{.}}
{{end}}
Current score: {{printf "%.2f" .Score}}
`))

type (
	PartialReport struct {
		SheetID      string
		EvaluationID string
		Matricule    string
		Score        float64
		Failed       []string // question ids
	}

	// Alerter tells staff about sheets that need manual grading.
	Alerter interface {
		PartiallyGraded(ctx context.Context, report PartialReport)
	}
)

type mailAlerter struct {
	mailer core.EmailService
	to     []mail.Address
}

// NewMailAlerter emails reviewers. Nothing is sent when there are none.
func NewMailAlerter(mailer core.EmailService, reviewers []string) Alerter {
	return &mailAlerter{mailer: mailer, to: core.ParseAddresses(reviewers)}
}

func (a *mailAlerter) PartiallyGraded(_ context.Context, report PartialReport) {
	if len(a.to) == 0 {
		return
	}
	a.mailer.SendMessages(&core.EmailMessage{
		To:       a.to,
		Subject:  "Manual grading needed",
		Template: partialTmpl,
		Data:     report,
	})
}
