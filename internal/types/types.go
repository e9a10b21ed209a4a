// Package types defines the wire envelope carried through consensus to the
// coffee ledger: the transaction types, their payloads and the signed
// transaction wrapper whose signer becomes the caller of a ledger call.
package types

import (
	"crypto/ed25519"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"coffee.mini/bmc/internal/identity"
	"coffee.mini/bmc/internal/ledger"
)

// Version is the current version of bmc
const Version = "0.1.0"

// BuildTime is set at build time via -ldflags
var BuildTime = "dev"

// TransactionType names a ledger operation.
type TransactionType string

const (
	TxInitialize    TransactionType = "initialize"
	TxRecordPayment TransactionType = "record_payment"
	TxWithdraw      TransactionType = "withdraw"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxInitialize, TxRecordPayment, TxWithdraw:
		return true
	}
	return false
}

// Transaction is the signed body of a ledger call.
type Transaction struct {
	ID        string          `json:"id"`                // UUID, used to correlate logs and receipts
	Type      TransactionType `json:"type"`              // Operation to run
	Value     string          `json:"value,omitempty"`   // Attached native currency in minimal units (decimal)
	Timestamp time.Time       `json:"timestamp"`         // Client-side creation time
	Payload   json.RawMessage `json:"payload,omitempty"` // Operation arguments
}

// RecordPaymentPayload carries the arguments of record_payment.
type RecordPaymentPayload struct {
	Message string `json:"message"`
}

// NewTransaction builds a transaction with a fresh ID. payload may be nil.
func NewTransaction(txType TransactionType, value *uint256.Int, payload interface{}) (*Transaction, error) {
	tx := &Transaction{
		ID:        uuid.New().String(),
		Type:      txType,
		Timestamp: time.Now().UTC(),
	}
	if value != nil && !value.IsZero() {
		tx.Value = ledger.FormatAmount(value)
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "marshal payload")
		}
		tx.Payload = raw
	}
	return tx, nil
}

// NewRecordPayment builds a record_payment transaction.
func NewRecordPayment(value *uint256.Int, message string) (*Transaction, error) {
	return NewTransaction(TxRecordPayment, value, RecordPaymentPayload{Message: message})
}

// AttachedValue parses the Value field. An absent value is zero.
func (tx *Transaction) AttachedValue() (*uint256.Int, error) {
	return ledger.ParseAmount(tx.Value)
}

// RecordPaymentPayload decodes the payload of a record_payment transaction.
func (tx *Transaction) RecordPaymentPayload() (RecordPaymentPayload, error) {
	var p RecordPaymentPayload
	if len(tx.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return p, errors.Wrap(err, "decode record_payment payload")
	}
	return p, nil
}

// Sign encodes tx and signs the encoding with id.
func (tx *Transaction) Sign(id *identity.Identity) (*SignedTransaction, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, errors.Wrap(err, "marshal transaction")
	}
	return &SignedTransaction{
		Tx:        body,
		PublicKey: id.PublicKey(),
		Signature: id.Sign(body),
	}, nil
}

// SignedTransaction is what gets broadcast. Tx holds the exact bytes that
// were signed so verification never depends on re-encoding.
type SignedTransaction struct {
	Tx        []byte `json:"tx"`
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
}

// Verify checks the signature over Tx.
func (s *SignedTransaction) Verify() bool {
	if len(s.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(s.PublicKey, s.Tx, s.Signature)
}

// GetTransaction decodes the inner transaction.
func (s *SignedTransaction) GetTransaction() (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(s.Tx, &tx); err != nil {
		return nil, errors.Wrap(err, "decode inner tx")
	}
	return &tx, nil
}

// Signer returns the ledger address of the signing key.
func (s *SignedTransaction) Signer() common.Address {
	return identity.AddressFromPublicKey(s.PublicKey)
}

// Encode returns the broadcast form of s.
func (s *SignedTransaction) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSignedTransaction parses the broadcast form.
func DecodeSignedTransaction(raw []byte) (*SignedTransaction, error) {
	var s SignedTransaction
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.Wrap(err, "decode signed tx")
	}
	return &s, nil
}
