// Package bank keeps native-currency balances per account. It is the value
// transfer primitive the ledger host hands to the coffee ledger: payments
// move attached value into escrow and withdrawals move it out to the owner.
package bank

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOverflow          = errors.New("balance overflow")
)

// Bank is an in-memory balance sheet. It is not safe for concurrent use;
// the ABCI application serializes access.
type Bank struct {
	balances map[common.Address]*uint256.Int
}

// New returns an empty bank.
func New() *Bank {
	return &Bank{balances: make(map[common.Address]*uint256.Int)}
}

// Balance returns a copy of the balance of addr.
func (b *Bank) Balance(addr common.Address) *uint256.Int {
	if v, ok := b.balances[addr]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

// Credit mints amount into addr. Used for genesis allocations.
func (b *Bank) Credit(addr common.Address, amount *uint256.Int) error {
	next, overflow := new(uint256.Int).AddOverflow(b.Balance(addr), amount)
	if overflow {
		return ErrOverflow
	}
	b.set(addr, next)
	return nil
}

// Transfer moves amount from one account to another. It either applies
// fully or leaves both balances untouched.
func (b *Bank) Transfer(from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() || from == to {
		return nil
	}
	src := b.Balance(from)
	if src.Lt(amount) {
		return errors.Wrapf(ErrInsufficientFunds, "%s has %s, needs %s",
			from.Hex(), src.ToBig().String(), amount.ToBig().String())
	}
	dst, overflow := new(uint256.Int).AddOverflow(b.Balance(to), amount)
	if overflow {
		return ErrOverflow
	}
	b.set(from, src.Sub(src, amount))
	b.set(to, dst)
	return nil
}

// Clone returns an independent copy.
func (b *Bank) Clone() *Bank {
	c := New()
	for addr, v := range b.balances {
		c.balances[addr] = new(uint256.Int).Set(v)
	}
	return c
}

// Account is one balance entry.
type Account struct {
	Address common.Address
	Balance *uint256.Int
}

// Accounts lists non-zero balances ordered by address, giving a
// deterministic iteration order for persistence and hashing.
func (b *Bank) Accounts() []Account {
	out := make([]Account, 0, len(b.balances))
	for addr, v := range b.balances {
		out = append(out, Account{Address: addr, Balance: new(uint256.Int).Set(v)})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out
}

func (b *Bank) set(addr common.Address, v *uint256.Int) {
	if v.IsZero() {
		delete(b.balances, addr)
		return
	}
	b.balances[addr] = v
}
