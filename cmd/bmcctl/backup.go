package main

import (
	"fmt"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"coffee.mini/bmc/internal/store"
)

var maxBackupsFlag = cli.IntFlag{
	Name:  "max-backups",
	Value: 20,
	Usage: "Backups to keep after a restore",
}

var backupCommand = cli.Command{
	Name:  "backup",
	Usage: "Inspect and restore ledger database backups (node must be stopped)",
	Subcommands: []cli.Command{
		{
			Name:   "list",
			Usage:  "List backups, newest first",
			Flags:  []cli.Flag{dbFlag},
			Action: backupListAction,
		},
		{
			Name:      "restore",
			Usage:     "Replace the database with a backup",
			ArgsUsage: "<backup name>",
			Flags:     []cli.Flag{dbFlag, maxBackupsFlag},
			Action:    backupRestoreAction,
		},
	},
}

func backupListAction(ctx *cli.Context) error {
	st, err := store.NewStore(ctx.String(dbFlag.Name))
	if err != nil {
		return err
	}
	defer st.Close()

	backups, err := st.ListBackups()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Fprintf(ctx.App.Writer, "no backups in %s\n", st.BackupDir())
		return nil
	}
	for _, b := range backups {
		fmt.Fprintf(ctx.App.Writer, "%s\t%d\t%s\n", b.Name, b.Size, b.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func backupRestoreAction(ctx *cli.Context) error {
	name := ctx.Args().First()
	if name == "" {
		return errors.New("backup name required")
	}

	st, err := store.NewStore(ctx.String(dbFlag.Name))
	if err != nil {
		return err
	}
	defer st.Close()

	previous, err := st.RestoreBackup(name, ctx.Int(maxBackupsFlag.Name))
	if err != nil {
		return errors.Wrapf(err, "restore %s", name)
	}

	_, _, meta, err := st.Load()
	if err != nil {
		return errors.Wrap(err, "read restored ledger")
	}
	fmt.Fprintf(ctx.App.Writer, "restored %s at height %d\n", name, meta.Height)
	if previous != "" {
		fmt.Fprintf(ctx.App.Writer, "previous database kept as %s\n", previous)
	}
	return nil
}
