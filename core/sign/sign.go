// Package sign produces and checks detached Ed25519 signatures over
// microapp images. The signed message is the BLAKE2b-256 digest of the
// complete image (header followed by payload).
package sign

import (
	"crypto/ed25519"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// SignatureSize is the length of a detached signature.
const SignatureSize = ed25519.SignatureSize

var ErrBadSignature = errors.New("signature does not match image")

// Digest returns the BLAKE2b-256 digest of image.
func Digest(image []byte) [32]byte {
	return blake2b.Sum256(image)
}

// Sign returns a detached signature over image.
func Sign(priv ed25519.PrivateKey, image []byte) []byte {
	d := Digest(image)
	return ed25519.Sign(priv, d[:])
}

// Verify checks sig against image and pub.
func Verify(pub ed25519.PublicKey, image, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return ErrInvalidPubKeySize
	}
	d := Digest(image)
	if len(sig) != SignatureSize || !ed25519.Verify(pub, d[:], sig) {
		return ErrBadSignature
	}
	return nil
}
