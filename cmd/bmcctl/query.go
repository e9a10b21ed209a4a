package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"coffee.mini/bmc/internal/ledger"
	"coffee.mini/bmc/internal/types"
)

var queryCommand = cli.Command{
	Name:      "query",
	Usage:     "Read the ledger",
	ArgsUsage: "owner|count|total|balance|state|account <address>",
	Action:    queryAction,
}

var queryAliases = map[string]string{
	"owner":                types.QueryOwner,
	"count":                types.QueryTotalPaymentCount,
	"total_payment_count":  types.QueryTotalPaymentCount,
	"totalCoffees":         types.QueryTotalPaymentCount,
	"total":                types.QueryTotalValueReceived,
	"total_value_received": types.QueryTotalValueReceived,
	"totalDonations":       types.QueryTotalValueReceived,
	"balance":              types.QueryBalance,
	"getBalance":           types.QueryBalance,
	"state":                types.QueryState,
}

// queryPath maps a query command line to an ABCI query path.
func queryPath(args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("query name required")
	}
	if args[0] == "account" {
		if len(args) < 2 || !common.IsHexAddress(args[1]) {
			return "", errors.New("account query needs a hex address")
		}
		return types.QueryAccountPrefix + common.HexToAddress(args[1]).Hex(), nil
	}
	path, ok := queryAliases[args[0]]
	if !ok {
		return "", errors.Errorf("unknown query %q", args[0])
	}
	return path, nil
}

// formatQueryValue renders a query answer for the terminal. Amounts get
// their native-unit form alongside.
func formatQueryValue(path string, value []byte) string {
	switch path {
	case types.QueryTotalValueReceived, types.QueryBalance:
		if v, err := ledger.ParseAmount(string(value)); err == nil {
			return fmt.Sprintf("%s (%s)", ledger.FormatAmount(v), ledger.FormatNative(v))
		}
	case types.QueryState:
		var out bytes.Buffer
		if json.Indent(&out, value, "", "  ") == nil {
			return out.String()
		}
	}
	if strings.HasPrefix(path, types.QueryAccountPrefix) {
		var info types.AccountInfo
		if json.Unmarshal(value, &info) == nil {
			if v, err := ledger.ParseAmount(info.Balance); err == nil {
				return fmt.Sprintf("%s %s (%s)", info.Address, ledger.FormatAmount(v), ledger.FormatNative(v))
			}
		}
	}
	return string(value)
}

func queryAction(ctx *cli.Context) error {
	path, err := queryPath(ctx.Args())
	if err != nil {
		return err
	}

	client, c, cancel := rpcClient(ctx)
	defer cancel()

	res, err := client.ABCIQuery(c, path)
	if err != nil {
		return errors.Wrapf(err, "query %s", path)
	}
	if res.Code != 0 {
		return errors.Errorf("query %s failed (code %d): %s", path, res.Code, res.Log)
	}
	fmt.Fprintln(ctx.App.Writer, formatQueryValue(path, res.Value))
	return nil
}
