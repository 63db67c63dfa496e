package main

import (
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/client/api"
	"github.com/trezcool/mtihani/client/offline"
	"github.com/trezcool/mtihani/core"
	logsvc "github.com/trezcool/mtihani/services/logger"
)

func main() {
	conf := core.NewConfig()
	std := log.New(os.Stderr, "STUDENT : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(std, conf)
	logger.Enable(conf.RollbarToken != "")

	var store *offline.Store
	cli := commandLine{
		conf:   conf,
		in:     os.Stdin,
		out:    os.Stdout,
		logger: logger,
		openStore: func() (*offline.Store, error) {
			if store == nil {
				s, err := offline.Open(conf.Client.DBPath)
				if err != nil {
					return nil, errors.Wrap(err, "opening offline store")
				}
				store = s
			}
			return store, nil
		},
		newRemote: func(token string) remote {
			return api.NewClient(conf.Client.ServerURL, token, conf.Client.RequestTimeout)
		},
	}

	err := cli.run(os.Args)
	if store != nil {
		if cErr := store.Close(); cErr != nil {
			std.Printf("closing offline store: %v", cErr)
		}
	}
	if err != nil {
		if err != errHelp {
			std.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
