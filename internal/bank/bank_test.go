package bank

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestTransfer(t *testing.T) {
	b := New()
	require.NoError(t, b.Credit(alice, uint256.NewInt(100)))

	require.NoError(t, b.Transfer(alice, bob, uint256.NewInt(40)))
	assert.Equal(t, uint64(60), b.Balance(alice).Uint64())
	assert.Equal(t, uint64(40), b.Balance(bob).Uint64())

	err := b.Transfer(alice, bob, uint256.NewInt(61))
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.Equal(t, uint64(60), b.Balance(alice).Uint64())
	assert.Equal(t, uint64(40), b.Balance(bob).Uint64())
}

func TestTransferZeroAndSelf(t *testing.T) {
	b := New()
	require.NoError(t, b.Transfer(alice, bob, new(uint256.Int)))
	require.NoError(t, b.Transfer(alice, alice, uint256.NewInt(5)))
	assert.Empty(t, b.Accounts())
}

func TestCreditOverflow(t *testing.T) {
	b := New()
	require.NoError(t, b.Credit(alice, new(uint256.Int).SetAllOne()))
	assert.Equal(t, ErrOverflow, b.Credit(alice, uint256.NewInt(1)))
}

func TestCloneIsIndependent(t *testing.T) {
	b := New()
	require.NoError(t, b.Credit(alice, uint256.NewInt(10)))

	c := b.Clone()
	require.NoError(t, c.Transfer(alice, bob, uint256.NewInt(10)))

	assert.Equal(t, uint64(10), b.Balance(alice).Uint64())
	assert.True(t, b.Balance(bob).IsZero())
	assert.True(t, c.Balance(alice).IsZero())
}

func TestAccountsSortedWithoutZeroBalances(t *testing.T) {
	b := New()
	require.NoError(t, b.Credit(bob, uint256.NewInt(2)))
	require.NoError(t, b.Credit(alice, uint256.NewInt(1)))
	require.NoError(t, b.Transfer(alice, bob, uint256.NewInt(1)))

	accounts := b.Accounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, bob, accounts[0].Address)
	assert.Equal(t, uint64(3), accounts[0].Balance.Uint64())
}
