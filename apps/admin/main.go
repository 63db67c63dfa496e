package main

import (
	"database/sql"
	"io"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"go.uber.org/dig"

	dig_container "github.com/trezcool/mtihani/apps/api/di/dig"
	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
	"github.com/trezcool/mtihani/core/question"
	"github.com/trezcool/mtihani/core/response"
	auditsvc "github.com/trezcool/mtihani/services/audit"
	"github.com/trezcool/mtihani/storage/database"
)

var logger *log.Logger

type appServices struct {
	dig.In
	Validate    *validator.Validate
	Translator  ut.Translator
	EvalSvc     *evaluation.Service
	QuestionSvc *question.Service
	ResponseSvc *response.Service
	Audit       *auditsvc.AsyncLog
	DB          io.Closer `name:"dbCloser"`
}

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf := core.NewConfig()

	var closers []io.Closer
	cli := commandLine{
		conf: conf,
		out:  os.Stdout,
		openDB: func() (*sql.DB, error) {
			db, err := database.Open(conf)
			if err != nil {
				return nil, errors.Wrap(err, "opening database")
			}
			if err = goose.SetDialect("postgres"); err != nil {
				return nil, errors.Wrap(err, "setting migration dialect")
			}
			closers = append(closers, db)
			return db.DB, nil
		},
		services: func() (*services, error) {
			var svcs *services
			err := dig_container.New().Invoke(func(a appServices) {
				core.InitValidators(a.Validate, a.Translator)
				closers = append(closers, a.DB, a.Audit)
				svcs = &services{
					validate:  a.Validate,
					evals:     a.EvalSvc,
					questions: a.QuestionSvc,
					responses: a.ResponseSvc,
				}
			})
			return svcs, err
		},
	}

	err := cli.run(os.Args)
	// reverse order: the audit log drains before the database closes
	for i := len(closers) - 1; i >= 0; i-- {
		if cErr := closers[i].Close(); cErr != nil {
			logger.Printf("closing: %v", cErr)
		}
	}
	if err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
