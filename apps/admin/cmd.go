package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/evaluation"
	"github.com/trezcool/mtihani/core/question"
	"github.com/trezcool/mtihani/core/response"
)

var errHelp = errors.New("help provided")

type services struct {
	validate  *validator.Validate
	evals     *evaluation.Service
	questions *question.Service
	responses *response.Service
}

type commandLine struct {
	conf *core.Config
	out  io.Writer
	// opened lazily: most commands never touch one of them
	openDB   func() (*sql.DB, error)
	services func() (*services, error)
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                      - run a goose migration command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  seed -file FILE                             - load evaluations and questions from a YAML file")
	fmt.Fprintln(cli.out, "  publish -id ID                              - publish a Draft evaluation")
	fmt.Fprintln(cli.out, "  complete -id ID                             - submit pending sheets and complete a Published evaluation")
	fmt.Fprintln(cli.out, "  token -matricule MATRICULE [-name] [-staff] - mint an API token")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	seedCmd := flag.NewFlagSet("seed", flag.ContinueOnError)
	seedFile := seedCmd.String("file", "", "Path of the YAML seed file.")

	publishCmd := flag.NewFlagSet("publish", flag.ContinueOnError)
	publishID := publishCmd.String("id", "", "The evaluation id.")

	completeCmd := flag.NewFlagSet("complete", flag.ContinueOnError)
	completeID := completeCmd.String("id", "", "The evaluation id.")

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenMatricule := tokenCmd.String("matricule", "", "The student's matricule, or a staff identifier.")
	tokenName := tokenCmd.String("name", "", "Display name.")
	tokenStaff := tokenCmd.Bool("staff", false, "Grant the staff role instead of the student one.")

	for _, fs := range []*flag.FlagSet{seedCmd, publishCmd, completeCmd, tokenCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "seed":
		if err := seedCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *seedFile == "" {
			seedCmd.Usage()
			return errHelp
		}
		return cli.seed(*seedFile)
	case "publish":
		if err := publishCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *publishID == "" {
			publishCmd.Usage()
			return errHelp
		}
		return cli.publish(*publishID)
	case "complete":
		if err := completeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *completeID == "" {
			completeCmd.Usage()
			return errHelp
		}
		return cli.complete(*completeID)
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenMatricule == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenMatricule, *tokenName, *tokenStaff)
	default:
		cli.printUsage()
		return errHelp
	}
}
