package api

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"coffee.mini/bmc/internal/ledger"
	"coffee.mini/bmc/internal/logger"
	"coffee.mini/bmc/internal/store"
	"coffee.mini/bmc/internal/tendermint"
	"coffee.mini/bmc/internal/types"
)

var (
	testOwner = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testPayer = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// mockLedger implements LedgerReader for testing
type mockLedger struct {
	state    *ledger.State
	balances map[common.Address]*uint256.Int
	height   int64
}

func (m *mockLedger) State() *ledger.State { return m.state.Clone() }
func (m *mockLedger) Height() int64        { return m.height }

func (m *mockLedger) AccountBalance(addr common.Address) *uint256.Int {
	if v, ok := m.balances[addr]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

// mockChain implements Broadcaster for testing
type mockChain struct {
	submitted []*types.SignedTransaction
	commit    bool
	result    *tendermint.TxResult
	err       error
}

func (m *mockChain) BroadcastSignedTransaction(ctx context.Context, stx *types.SignedTransaction, commit bool) (*tendermint.TxResult, error) {
	m.submitted = append(m.submitted, stx)
	m.commit = commit
	return m.result, m.err
}

// setupTest creates a temporary store and a service over a ledger holding
// the three-payment scenario
func setupTest(t *testing.T) (*Service, *mockLedger, *mockChain, *store.Store) {
	t.Helper()

	st, err := store.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	led := &mockLedger{
		state: ledger.Restore(testOwner, uint256.NewInt(3), uint256.NewInt(4_500_000_000_000_000), uint256.NewInt(4_500_000_000_000_000)),
		balances: map[common.Address]*uint256.Int{
			testPayer: uint256.NewInt(7_000_000_000_000_000),
		},
		height: 12,
	}
	chain := &mockChain{result: &tendermint.TxResult{Hash: "C0FFEE", Height: 13}}

	svc := NewService(led, chain, st, logger.NewFeed(100), nil, 5)
	return svc, led, chain, st
}
