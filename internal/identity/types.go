// Package identity manages account keypairs. Every bmc node and client holds
// a persistent ed25519 private key; the ledger address of an account is the
// last 20 bytes of the Keccak-256 hash of its public key, in the same shape
// as an Ethereum address so it renders and parses with go-ethereum helpers.
package identity

import (
	"crypto/ed25519"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity represents an account's cryptographic identity
type Identity struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    common.Address
}

// NewIdentity creates a new Identity from a private key
func NewIdentity(privKey ed25519.PrivateKey) *Identity {
	pubKey := privKey.Public().(ed25519.PublicKey)
	return &Identity{
		privateKey: privKey,
		publicKey:  pubKey,
		address:    AddressFromPublicKey(pubKey),
	}
}

// AddressFromPublicKey derives the ledger address of an ed25519 public key.
func AddressFromPublicKey(pub []byte) common.Address {
	return common.BytesToAddress(crypto.Keccak256(pub)[12:])
}

// Sign signs the provided message with the identity's private key
func (i *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(i.privateKey, message)
}

// Verify verifies a signature against a message using the identity's public key
func (i *Identity) Verify(message, signature []byte) bool {
	return ed25519.Verify(i.publicKey, message, signature)
}

// PublicKey returns the raw public key
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.publicKey
}

// PrivateKey returns the raw private key
func (i *Identity) PrivateKey() ed25519.PrivateKey {
	return i.privateKey
}

// PublicKeyHex returns the hex-encoded public key string
func (i *Identity) PublicKeyHex() string {
	return hex.EncodeToString(i.publicKey)
}

// Address is the account's ledger address.
func (i *Identity) Address() common.Address {
	return i.address
}
