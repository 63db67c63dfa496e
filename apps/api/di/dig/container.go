package dig_container

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/mtihani/apps/api/echo"
	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
	"github.com/trezcool/mtihani/core/grading"
	"github.com/trezcool/mtihani/core/question"
	"github.com/trezcool/mtihani/core/response"
	auditsvc "github.com/trezcool/mtihani/services/audit"
	emailsvc "github.com/trezcool/mtihani/services/email"
	locksvc "github.com/trezcool/mtihani/services/lock"
	logsvc "github.com/trezcool/mtihani/services/logger"
	schedulersvc "github.com/trezcool/mtihani/services/scheduler"
	scorersvc "github.com/trezcool/mtihani/services/scorer"
	"github.com/trezcool/mtihani/storage/database"
	dummydb "github.com/trezcool/mtihani/storage/database/dummy"
	sqlxrepos "github.com/trezcool/mtihani/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Storage is what the configured database driver provides.
type Storage struct {
	dig.Out
	Evaluations evaluation.Repository
	Questions   question.Repository
	Responses   response.Repository
	Tx          core.Transactor
	Closer      io.Closer `name:"dbCloser"`
}

type AuditParam struct {
	dig.Out
	Log   core.AuditLog
	Async *auditsvc.AsyncLog
}

type ServerParam struct {
	dig.In
	Conf        *core.Config
	Logger      core.Logger
	Validate    *validator.Validate
	Translator  ut.Translator
	EvalSvc     *evaluation.Service
	QuestionSvc *question.Service
	ResponseSvc *response.Service
}

type ResponseParam struct {
	dig.In
	Repo      response.Repository
	Tx        core.Transactor
	Evals     *evaluation.Service
	Questions *question.Service
	Grader    *grading.Engine
	Alerter   grading.Alerter
	Locker    core.Locker
	Audit     core.AuditLog
	Logger    core.Logger
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newStorage(conf *core.Config, loggerParam DBLoggerParam) Storage {
	if conf.Database.Driver == "memory" {
		db := dummydb.Open()
		loggerParam.Logger.Info("using the in-memory database; data is lost on exit")
		return Storage{
			Evaluations: dummydb.NewEvaluationRepository(db),
			Questions:   dummydb.NewQuestionRepository(db),
			Responses:   dummydb.NewResponseRepository(db),
			Tx:          dummydb.NewTransactor(),
			Closer:      nopCloser{},
		}
	}

	setUp := func() (Storage, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return Storage{}, err
		}
		db, err := database.Open(conf)
		if err != nil {
			return Storage{}, err
		}
		if err = database.Migrate(db.DB); err != nil {
			return Storage{}, err
		}
		return Storage{
			Evaluations: sqlxrepos.NewEvaluationRepository(db),
			Questions:   sqlxrepos.NewQuestionRepository(db),
			Responses:   sqlxrepos.NewResponseRepository(db),
			Tx:          database.NewTransactor(db),
			Closer:      db,
		}, nil
	}

	st, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return st
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newAuditLog(conf *core.Config, logger core.Logger) (AuditParam, error) {
	var (
		sink core.AuditLog
		err  error
	)
	switch conf.Audit.Driver {
	case "rabbitmq":
		sink, err = auditsvc.NewRabbitLog(conf)
	case "none":
		sink = auditsvc.NewNopLog()
	default:
		sink, err = auditsvc.NewFileLog(conf)
	}
	if err != nil {
		return AuditParam{}, errors.Wrapf(err, "opening %s audit log", conf.Audit.Driver)
	}
	async := auditsvc.NewAsyncLog(sink, conf.Audit.Buffer, logger)
	return AuditParam{Log: async, Async: async}, nil
}

func newLocker(conf *core.Config, logger core.Logger) core.Locker {
	if conf.Redis.Address == "" {
		return locksvc.NewMemoryLocker()
	}
	return locksvc.NewRedisLocker(conf, logger)
}

func newScorer(conf *core.Config) grading.Scorer {
	if conf.Scorer.Driver == "http" {
		return scorersvc.NewHTTPScorer(conf)
	}
	return scorersvc.NewSimilarityScorer()
}

func newGradingEngine(conf *core.Config, scorer grading.Scorer, logger core.Logger) *grading.Engine {
	return grading.NewEngine(scorer, conf.Grading.Workers, logger)
}

func newAlerter(conf *core.Config, mailer core.EmailService) grading.Alerter {
	return grading.NewMailAlerter(mailer, conf.Grading.Reviewers)
}

func newResponseService(p ResponseParam) *response.Service {
	return response.NewService(response.Deps{
		Repo:      p.Repo,
		Tx:        p.Tx,
		Evals:     p.Evals,
		Questions: p.Questions,
		Grader:    p.Grader,
		Alerter:   p.Alerter,
		Locker:    p.Locker,
		Audit:     p.Audit,
		Logger:    p.Logger,
	})
}

func newScheduler(conf *core.Config, evals *evaluation.Service, responses *response.Service, logger core.Logger) *schedulersvc.Scheduler {
	return schedulersvc.New(conf, evals, responses, logger)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newServer(p ServerParam) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:        p.Conf,
		Logger:      p.Logger,
		Validate:    p.Validate,
		Translator:  p.Translator,
		EvalSvc:     p.EvalSvc,
		QuestionSvc: p.QuestionSvc,
		ResponseSvc: p.ResponseSvc,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(newEmailService))
	must(c.Provide(newAuditLog))
	must(c.Provide(newLocker))
	must(c.Provide(newScorer))
	must(c.Provide(newGradingEngine))
	must(c.Provide(newAlerter))
	must(c.Provide(evaluation.NewService))
	must(c.Provide(question.NewService))
	must(c.Provide(newResponseService))
	must(c.Provide(newScheduler))
	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
