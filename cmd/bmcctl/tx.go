package main

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"coffee.mini/bmc/internal/identity"
	"coffee.mini/bmc/internal/ledger"
	"coffee.mini/bmc/internal/tendermint"
	"coffee.mini/bmc/internal/types"
)

var (
	amountFlag = cli.StringFlag{
		Name:  "amount",
		Usage: "Payment in native units, e.g. 0.001",
	}
	weiFlag = cli.StringFlag{
		Name:  "wei",
		Usage: "Payment in minimal units (overrides --amount)",
	}
	messageFlag = cli.StringFlag{
		Name:  "message, m",
		Usage: "Message sent with the payment",
	}

	initCommand = cli.Command{
		Name:        "init",
		Usage:       "Initialize the ledger with the signer as owner",
		Flags:       []cli.Flag{keyFlag, commitFlag},
		Action:      initAction,
		Description: "Accepted once per chain.",
	}
	payCommand = cli.Command{
		Name:      "pay",
		Usage:     "Buy the owner a coffee",
		ArgsUsage: "--amount 0.001 --message \"thanks\"",
		Flags:     []cli.Flag{keyFlag, commitFlag, amountFlag, weiFlag, messageFlag},
		Action:    payAction,
	}
	withdrawCommand = cli.Command{
		Name:   "withdraw",
		Usage:  "Move the collected value to the owner",
		Flags:  []cli.Flag{keyFlag, commitFlag},
		Action: withdrawAction,
	}
)

func initAction(ctx *cli.Context) error {
	tx, err := types.NewTransaction(types.TxInitialize, nil, nil)
	if err != nil {
		return err
	}
	return signAndBroadcast(ctx, tx)
}

func payAction(ctx *cli.Context) error {
	value, err := paymentValue(ctx.String(amountFlag.Name), ctx.String(weiFlag.Name))
	if err != nil {
		return err
	}
	tx, err := types.NewRecordPayment(value, ctx.String("message"))
	if err != nil {
		return err
	}
	return signAndBroadcast(ctx, tx)
}

func withdrawAction(ctx *cli.Context) error {
	tx, err := types.NewTransaction(types.TxWithdraw, nil, nil)
	if err != nil {
		return err
	}
	return signAndBroadcast(ctx, tx)
}

// paymentValue resolves the attached value from --wei or --amount. The
// minimum is enforced by the ledger, not here.
func paymentValue(amount, wei string) (*uint256.Int, error) {
	switch {
	case strings.TrimSpace(wei) != "":
		return ledger.ParseAmount(wei)
	case strings.TrimSpace(amount) != "":
		return ledger.ParseNative(amount)
	default:
		return nil, errors.New("one of --amount or --wei is required")
	}
}

func signAndBroadcast(ctx *cli.Context, tx *types.Transaction) error {
	id, err := identity.LoadIdentity(ctx.String(keyFlag.Name))
	if err != nil {
		return err
	}
	stx, err := tx.Sign(id)
	if err != nil {
		return err
	}

	client, c, cancel := rpcClient(ctx)
	defer cancel()

	res, err := client.BroadcastSignedTransaction(c, stx, ctx.Bool(commitFlag.Name))
	if err != nil {
		var txErr *tendermint.TxError
		if errors.As(err, &txErr) {
			return errors.Errorf("%s rejected (code %d): %s", tx.Type, txErr.Code, txErr.Log)
		}
		return errors.Wrapf(err, "broadcast %s", tx.Type)
	}

	w := ctx.App.Writer
	fmt.Fprintf(w, "%s from %s accepted\n", tx.Type, id.Address().Hex())
	fmt.Fprintf(w, "id:   %s\nhash: %s\n", tx.ID, res.Hash)
	if res.Height > 0 {
		fmt.Fprintf(w, "height: %d\n", res.Height)
	}
	return nil
}
