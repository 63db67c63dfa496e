package main

import (
	"fmt"

	echoapi "github.com/trezcool/mtihani/apps/api/echo"
	"github.com/trezcool/mtihani/core"
)

func (cli *commandLine) token(matricule, name string, staff bool) error {
	role := echoapi.RoleStudent
	if staff {
		role = echoapi.RoleStaff
	}
	claims := echoapi.NewClaims(cli.conf, core.CleanString(matricule), core.CleanString(name), role)
	token, err := echoapi.GenerateToken(claims, cli.conf.SecretKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}
