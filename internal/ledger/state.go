// Package ledger holds the coffee ledger state machine. It owns the persisted
// fields (owner, payment count, value received, spendable balance) and the rules that
// validate and apply every call against them. The package performs no I/O:
// the host supplies caller identity, attached value and value transfer via
// the Host interface, loads the State before a call and persists it after.
package ledger

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// MinimumPayment is the smallest attached value accepted by RecordPayment:
// 0.001 of the native unit at 18 decimals.
var MinimumPayment = uint256.NewInt(1_000_000_000_000_000)

// Host is the execution environment of a single call.
type Host interface {
	// Caller returns the identity that initiated the current call.
	Caller() common.Address
	// Value returns the native currency attached to the current call.
	Value() *uint256.Int
	// Transfer moves native currency to the given account.
	Transfer(to common.Address, amount *uint256.Int) error
}

// State is the persisted ledger record.
type State struct {
	owner    common.Address
	count    uint256.Int
	received uint256.Int
	// balance is the part of received not yet withdrawn.
	balance uint256.Int
}

// NewState returns an uninitialized state with zero counters.
func NewState() *State {
	return &State{}
}

// Restore rebuilds a state from persisted fields.
func Restore(owner common.Address, count, received, balance *uint256.Int) *State {
	s := &State{owner: owner}
	if count != nil {
		s.count.Set(count)
	}
	if received != nil {
		s.received.Set(received)
	}
	if balance != nil {
		s.balance.Set(balance)
	}
	return s
}

// Clone returns a deep copy so a host can run a call against scratch state
// and keep the original when the call fails.
func (s *State) Clone() *State {
	c := *s
	return &c
}

// Initialized reports whether an owner has been bound.
func (s *State) Initialized() bool {
	return s.owner != (common.Address{})
}

// Initialize binds the owner to the caller and zeroes the counters.
// Single invocation is the host's responsibility.
func (s *State) Initialize(h Host) {
	s.owner = h.Caller()
	s.count.Clear()
	s.received.Clear()
	s.balance.Clear()
}

// RecordPayment accepts one coffee. The message must be non-empty and the
// attached value at least MinimumPayment, checked in that order. Nothing is
// mutated unless both checks and the arithmetic succeed.
func (s *State) RecordPayment(h Host, message string) error {
	if message == "" {
		return ErrEmptyMessage
	}
	value := h.Value()
	if value == nil || value.Lt(MinimumPayment) {
		return ErrBelowMinimum
	}

	var count, received, balance uint256.Int
	if _, overflow := count.AddOverflow(&s.count, uint256.NewInt(1)); overflow {
		return ErrOverflow
	}
	if _, overflow := received.AddOverflow(&s.received, value); overflow {
		return ErrOverflow
	}
	if _, overflow := balance.AddOverflow(&s.balance, value); overflow {
		return ErrOverflow
	}

	s.count = count
	s.received = received
	s.balance = balance
	return nil
}

// Withdraw authorizes the owner to take the balance and hands the transfer
// to the host. The balance is zeroed only after the transfer succeeds. The
// counters are left untouched: the value received stays a lifetime figure.
func (s *State) Withdraw(h Host) error {
	if h.Caller() != s.owner {
		return ErrNotOwner
	}
	if s.balance.IsZero() {
		return ErrNothingToWithdraw
	}
	if err := h.Transfer(s.owner, s.Balance()); err != nil {
		return err
	}
	s.balance.Clear()
	return nil
}

// Owner returns the bound owner.
func (s *State) Owner() common.Address {
	return s.owner
}

// TotalPaymentCount returns the number of accepted payments.
func (s *State) TotalPaymentCount() *uint256.Int {
	return new(uint256.Int).Set(&s.count)
}

// TotalValueReceived returns the sum of all accepted payment values.
func (s *State) TotalValueReceived() *uint256.Int {
	return new(uint256.Int).Set(&s.received)
}

// Balance is the withdrawable amount: everything received since the last
// withdraw. It equals TotalValueReceived until the owner first withdraws.
func (s *State) Balance() *uint256.Int {
	return new(uint256.Int).Set(&s.balance)
}

// Snapshot is the wire form of State. Counters are decimal strings so that
// 256-bit values survive JSON consumers that parse numbers as float64.
type Snapshot struct {
	Owner              string `json:"owner"`
	TotalPaymentCount  string `json:"total_payment_count"`
	TotalValueReceived string `json:"total_value_received"`
	Balance            string `json:"balance"`
}

// Snapshot returns the wire form of s.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Owner:              s.owner.Hex(),
		TotalPaymentCount:  FormatAmount(&s.count),
		TotalValueReceived: FormatAmount(&s.received),
		Balance:            FormatAmount(&s.balance),
	}
}

func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	restored, err := FromSnapshot(snap)
	if err != nil {
		return err
	}
	*s = *restored
	return nil
}

// FromSnapshot parses a wire snapshot. A snapshot without a balance
// predates withdraw tracking and gets the full value received.
func FromSnapshot(snap Snapshot) (*State, error) {
	var owner common.Address
	if snap.Owner != "" {
		if !common.IsHexAddress(snap.Owner) {
			return nil, errors.Errorf("invalid owner address %q", snap.Owner)
		}
		owner = common.HexToAddress(snap.Owner)
	}
	count, err := ParseAmount(snap.TotalPaymentCount)
	if err != nil {
		return nil, errors.Wrap(err, "total_payment_count")
	}
	received, err := ParseAmount(snap.TotalValueReceived)
	if err != nil {
		return nil, errors.Wrap(err, "total_value_received")
	}
	balance := received
	if snap.Balance != "" {
		if balance, err = ParseAmount(snap.Balance); err != nil {
			return nil, errors.Wrap(err, "balance")
		}
		if balance.Gt(received) {
			return nil, errors.Errorf("balance %s exceeds total value received %s", snap.Balance, snap.TotalValueReceived)
		}
	}
	return Restore(owner, count, received, balance), nil
}
