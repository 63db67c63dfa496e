package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/trezcool/mtihani/core"
)

// dsn builds the connection URL of dbName, as the admin role when asked and configured.
func dsn(conf *core.Config, dbName string, admin bool) string {
	db := conf.Database
	user := url.UserPassword(db.User, db.Password)
	if admin && db.AdminUser != "" {
		user = url.UserPassword(db.AdminUser, db.AdminPassword)
	}
	q := url.Values{"timezone": {"utc"}, "sslmode": {"require"}}
	if db.DisableTLS {
		q.Set("sslmode", "disable")
	}
	u := url.URL{Scheme: db.Engine, User: user, Host: db.Address(), Path: dbName, RawQuery: q.Encode()}
	return u.String()
}

// connect opens dbName and waits for the server to answer.
func connect(conf *core.Config, dbName string, admin bool) (*sqlx.DB, error) {
	db, err := sqlx.Open(conf.Database.Engine, dsn(conf, dbName, admin))
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", dbName)
	}
	if err = waitReady(db.DB, pingAttempts); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Open connects to the app database.
func Open(conf *core.Config) (*sqlx.DB, error) {
	return connect(conf, conf.Database.Name, false)
}

const pingAttempts = 30

// waitReady pings db until it answers, backing off 100ms more after each failure.
func waitReady(db *sql.DB, attempts int) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = db.Ping(); err == nil {
			return nil
		}
		time.Sleep(time.Duration(i) * 100 * time.Millisecond)
	}
	return errors.Wrap(err, "database not ready")
}

// ensure runs create unless check finds name.
func ensure(db *sqlx.DB, check, name, create string) error {
	var found bool
	err := db.Get(&found, check, name)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrapf(err, "looking up %s", name)
	}
	if found {
		return nil
	}
	_, err = db.Exec(create)
	return errors.Wrapf(err, "creating %s", name)
}

// CreateIfNotExist provisions the app role (as admin) then the app database (as the app role).
func CreateIfNotExist(conf *core.Config) error {
	adminDB, err := connect(conf, "postgres", true)
	if err != nil {
		return err
	}
	defer func() { _ = adminDB.Close() }()

	if user := conf.Database.User; user != "" {
		create := fmt.Sprintf("CREATE USER %s CREATEDB ENCRYPTED PASSWORD %s",
			pq.QuoteIdentifier(user), pq.QuoteLiteral(conf.Database.Password))
		if err = ensure(adminDB, "SELECT true FROM pg_roles WHERE rolname = $1", user, create); err != nil {
			return err
		}
	}

	appDB, err := connect(conf, "postgres", false)
	if err != nil {
		return err
	}
	defer func() { _ = appDB.Close() }()

	name := conf.Database.Name
	return ensure(appDB, "SELECT true FROM pg_database WHERE datname = $1", name, "CREATE DATABASE "+pq.QuoteIdentifier(name))
}

func init() {
	goose.SetBaseFS(Migrations)
}

func Migrate(db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "setting migration dialect")
	}
	if err := goose.Up(db, MigrationsDir); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}

// Transactor runs units of work in sql transactions. Repositories recognise the *sqlx.Tx it hands out.
type Transactor struct {
	db *sqlx.DB
}

var _ core.Transactor = (*Transactor)(nil) // interface compliance check

func NewTransactor(db *sqlx.DB) *Transactor {
	return &Transactor{db: db}
}

func (t *Transactor) InTx(ctx context.Context, fn func(exec core.DBExecutor) error) (err error) {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rolling back: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}
