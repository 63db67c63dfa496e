package logsvc

import (
	"log"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/mtihani/core"
)

// RollbarLogger reports to Rollbar and echoes every entry to a std logger.
// Arguments may be an error, extras (map[string]interface{}) or the core.Identity of the caller.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{std: std}
}

// Enable toggles reporting; the std echo is always on.
func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) { l.log(rollbar.DEBUG, msg, args) }
func (l RollbarLogger) Info(msg string, args ...interface{})  { l.log(rollbar.INFO, msg, args) }
func (l RollbarLogger) Warn(msg string, args ...interface{})  { l.log(rollbar.WARN, msg, args) }
func (l RollbarLogger) Error(msg string, args ...interface{}) { l.log(rollbar.ERR, msg, args) }

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.log(rollbar.CRIT, msg, args)
	rollbar.Wait()
	l.std.Fatal(msg)
}

func (l RollbarLogger) log(level, msg string, args []interface{}) {
	ident, rest := splitIdentity(args)
	if ident.Matricule != "" {
		rollbar.SetPerson(ident.Matricule, ident.Name, "")
	} else {
		rollbar.ClearPerson()
	}
	rollbar.Log(level, append([]interface{}{msg}, rest...)...)

	l.std.Printf("[%s] %s", level, msg)
	if ident.Matricule != "" {
		l.std.Printf("  by %s", ident.Matricule)
	}
	for _, arg := range rest {
		l.std.Printf("  %+v", arg)
	}
}

// splitIdentity pulls the first identity out of args.
func splitIdentity(args []interface{}) (core.Identity, []interface{}) {
	var ident core.Identity
	found := false
	rest := make([]interface{}, 0, len(args))
	for _, arg := range args {
		if id, ok := arg.(core.Identity); ok {
			if !found {
				ident, found = id, true
			}
			continue
		}
		rest = append(rest, arg)
	}
	return ident, rest
}
