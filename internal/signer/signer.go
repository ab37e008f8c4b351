// Package signer provides the copy wallet's signing key.
package signer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// ErrNoKey is returned when neither a key file nor an inline key is set.
var ErrNoKey = errors.New("no signing key configured")

// LocalSigner signs with an in-memory ed25519 key.
type LocalSigner struct {
	key solana.PrivateKey
}

// New wraps key.
func New(key solana.PrivateKey) (*LocalSigner, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("private key must be 64 bytes, got %d", len(key))
	}
	return &LocalSigner{key: key}, nil
}

// FromKeygenFile loads a solana-keygen JSON key file.
func FromKeygenFile(path string) (*LocalSigner, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load key file %s: %w", path, err)
	}
	return New(key)
}

// FromBase58 parses a base58 encoded 64-byte secret key.
func FromBase58(s string) (*LocalSigner, error) {
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse base58 key: %w", err)
	}
	return New(solana.PrivateKey(raw))
}

// Load prefers an inline base58 key over a key file.
func Load(inline, path string) (*LocalSigner, error) {
	switch {
	case strings.TrimSpace(inline) != "":
		return FromBase58(inline)
	case path != "":
		return FromKeygenFile(path)
	default:
		return nil, ErrNoKey
	}
}

func (s *LocalSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

// Sign signs a serialized transaction message.
func (s *LocalSigner) Sign(message []byte) (solana.Signature, error) {
	return s.key.Sign(message)
}
