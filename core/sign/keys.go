package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
)

var (
	ErrInvalidPubKeySize  = errors.New("invalid public key size: expected 32 bytes")
	ErrInvalidPrivKeySize = errors.New("invalid private key size: expected 32 or 64 bytes")
)

// KeyPair holds the Ed25519 key pair used to sign microapp images.
type KeyPair struct {
	PublicKey  ed25519.PublicKey  // 32 bytes
	PrivateKey ed25519.PrivateKey // 64 bytes
}

// GenerateKeyPair generates a new Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// KeyPairFromPrivateKey reconstructs a KeyPair from a 32-byte seed or a
// 64-byte Ed25519 private key.
func KeyPairFromPrivateKey(privKey []byte) (*KeyPair, error) {
	var priv ed25519.PrivateKey
	switch len(privKey) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(privKey)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(make([]byte, ed25519.PrivateKeySize))
		copy(priv, privKey)
	default:
		return nil, ErrInvalidPrivKeySize
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// ParsePrivateKey decodes a hex seed or full private key.
func ParsePrivateKey(s string) (*KeyPair, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	return KeyPairFromPrivateKey(b)
}

// ParsePublicKey decodes a hex public key and checks that it is a valid
// curve point.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, ErrInvalidPubKeySize
	}
	if _, err := new(edwards25519.Point).SetBytes(b); err != nil {
		return nil, fmt.Errorf("invalid Ed25519 public key: %w", err)
	}
	return ed25519.PublicKey(b), nil
}

// HexPublicKey returns the public key as lower-case hex.
func (kp *KeyPair) HexPublicKey() string {
	return hex.EncodeToString(kp.PublicKey)
}

// HexSeed returns the private key seed as lower-case hex.
func (kp *KeyPair) HexSeed() string {
	return hex.EncodeToString(kp.PrivateKey.Seed())
}
