package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/mtihani/client/offline"
	"github.com/trezcool/mtihani/client/reconcile"
	"github.com/trezcool/mtihani/client/session"
	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/question"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp    = errors.New("help provided")
	errNoToken = errors.New("an API token is required")
)

// remote is the server as seen by the student client.
type remote interface {
	session.Remote
	reconcile.Submitter
	Evaluations(ctx context.Context) ([]question.Paper, error)
}

type commandLine struct {
	conf   *core.Config
	in     io.Reader
	out    io.Writer
	logger core.Logger
	clock  core.Clock
	// opened lazily: `pending` never talks to the server
	openStore func() (*offline.Store, error)
	newRemote func(token string) remote
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  download                                  - download the published evaluations for offline use")
	fmt.Fprintln(cli.out, "  take -id ID -matricule MATRICULE [-offline] - take a downloaded evaluation")
	fmt.Fprintln(cli.out, "  sync                                      - push the submitted attempts to the server")
	fmt.Fprintln(cli.out, "  pending                                   - list the attempts not synced yet")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	takeCmd := flag.NewFlagSet("take", flag.ContinueOnError)
	takeID := takeCmd.String("id", "", "The evaluation id.")
	takeMatricule := takeCmd.String("matricule", "", "Your matricule.")
	takeOffline := takeCmd.Bool("offline", false, "Do not contact the server; run `sync` later.")
	takeCmd.SetOutput(cli.out)

	switch args[1] {
	case "download":
		return cli.download()
	case "take":
		if err := takeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *takeID == "" || *takeMatricule == "" {
			takeCmd.Usage()
			return errHelp
		}
		return cli.take(*takeID, *takeMatricule, *takeOffline)
	case "sync":
		return cli.sync()
	case "pending":
		return cli.pending()
	default:
		cli.printUsage()
		return errHelp
	}
}

// token returns the configured API token, prompting for it when there is none.
func (cli *commandLine) token() (string, error) {
	if cli.conf.Client.Token != "" {
		return cli.conf.Client.Token, nil
	}
	fmt.Fprint(cli.out, "Enter API token:")
	tok, err := readPasswordFunc(syscall.Stdin)
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(tok))
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}

func (cli *commandLine) remote() (remote, error) {
	token, err := cli.token()
	if err != nil {
		return nil, err
	}
	return cli.newRemote(token), nil
}

func (cli *commandLine) store() (*offline.Store, error) {
	s, err := cli.openStore()
	if err != nil {
		return nil, err
	}
	s.SetClock(cli.clock)
	return s, nil
}
