// Command bmcctl is the client of a bmc node: it manages signing keys,
// signs and broadcasts ledger transactions, runs ABCI queries and maintains
// database backups of a stopped node.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/urfave/cli.v1"

	"coffee.mini/bmc/internal/tendermint"
	"coffee.mini/bmc/internal/types"
)

var (
	rpcFlag = cli.StringFlag{
		Name:   "rpc",
		Value:  "http://localhost:26657",
		Usage:  "Tendermint JSON-RPC address",
		EnvVar: "BMC_RPC",
	}
	timeoutFlag = cli.DurationFlag{
		Name:  "timeout",
		Value: 30 * time.Second,
		Usage: "Time limit for a single RPC call",
	}
	keyFlag = cli.StringFlag{
		Name:   "key",
		Value:  "bmc_key.pem",
		Usage:  "PEM ed25519 signing key",
		EnvVar: "BMC_KEY",
	}
	commitFlag = cli.BoolFlag{
		Name:  "commit",
		Usage: "Wait until the transaction is included in a block",
	}
	dbFlag = cli.StringFlag{
		Name:  "db",
		Value: "ledger.db",
		Usage: "Ledger database of a stopped node",
	}
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Usage = "buy me a coffee ledger client"
	app.Version = types.Version
	app.Flags = []cli.Flag{rpcFlag, timeoutFlag}
	app.Commands = []cli.Command{
		keysCommand,
		initCommand,
		payCommand,
		withdrawCommand,
		queryCommand,
		backupCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rpcClient builds a client from the global flags. The returned context
// carries the --timeout limit.
func rpcClient(ctx *cli.Context) (*tendermint.RPCClient, context.Context, context.CancelFunc) {
	c, cancel := context.WithTimeout(context.Background(), ctx.GlobalDuration(timeoutFlag.Name))
	return tendermint.NewRPCClient(ctx.GlobalString(rpcFlag.Name)), c, cancel
}
