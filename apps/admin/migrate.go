package main

import (
	"github.com/pressly/goose/v3"

	"github.com/trezcool/mtihani/storage/database"
)

var gooseRunFunc = goose.Run // mockable

// migrate runs against the migrations embedded in the database package.
func (cli *commandLine) migrate(args []string) error {
	db, err := cli.openDB()
	if err != nil {
		return err
	}
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(args[0], db, database.MigrationsDir, arguments...)
}
