package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"coffee.mini/bmc/internal/identity"
)

var keysCommand = cli.Command{
	Name:  "keys",
	Usage: "Manage signing keys",
	Subcommands: []cli.Command{
		{
			Name:   "create",
			Usage:  "Generate a new key",
			Flags:  []cli.Flag{keyFlag},
			Action: keysCreateAction,
		},
		{
			Name:   "show",
			Usage:  "Print the account address of a key",
			Flags:  []cli.Flag{keyFlag},
			Action: keysShowAction,
		},
	},
}

func keysCreateAction(ctx *cli.Context) error {
	path := ctx.String(keyFlag.Name)
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return errors.Errorf("key file %s already exists", path)
	}
	id, err := identity.LoadOrCreateIdentity(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "address:    %s\npublic key: %s\nkey file:   %s\n", id.Address().Hex(), id.PublicKeyHex(), path)
	return nil
}

func keysShowAction(ctx *cli.Context) error {
	id, err := identity.LoadIdentity(ctx.String(keyFlag.Name))
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "address:    %s\npublic key: %s\n", id.Address().Hex(), id.PublicKeyHex())
	return nil
}
