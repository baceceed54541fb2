package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	if len(kp.PublicKey) != ed25519.PublicKeySize {
		t.Errorf("PublicKey length = %d, want %d", len(kp.PublicKey), ed25519.PublicKeySize)
	}

	kp2, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() second call error = %v", err)
	}
	if kp.PublicKey.Equal(kp2.PublicKey) {
		t.Error("two generated keys should not be equal")
	}
}

func TestKeyPairFromPrivateKey(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)

	for _, in := range [][]byte{priv, priv.Seed()} {
		kp, err := KeyPairFromPrivateKey(in)
		if err != nil {
			t.Fatalf("KeyPairFromPrivateKey(%d bytes) error = %v", len(in), err)
		}
		if !kp.PublicKey.Equal(pub) {
			t.Errorf("KeyPairFromPrivateKey(%d bytes): public key does not match", len(in))
		}
	}

	if _, err := KeyPairFromPrivateKey(make([]byte, 16)); err != ErrInvalidPrivKeySize {
		t.Errorf("error = %v, want %v", err, ErrInvalidPrivKeySize)
	}
}

func TestParseKeys(t *testing.T) {
	kp, _ := GenerateKeyPair()

	parsed, err := ParsePrivateKey(kp.HexSeed() + "\n")
	if err != nil {
		t.Fatalf("ParsePrivateKey() error = %v", err)
	}
	if !parsed.PublicKey.Equal(kp.PublicKey) {
		t.Error("ParsePrivateKey() public key mismatch")
	}

	pub, err := ParsePublicKey(kp.HexPublicKey())
	if err != nil {
		t.Fatalf("ParsePublicKey() error = %v", err)
	}
	if !pub.Equal(kp.PublicKey) {
		t.Error("ParsePublicKey() mismatch")
	}

	if _, err := ParsePublicKey("zz"); err == nil {
		t.Error("ParsePublicKey(bad hex) expected error")
	}
	if _, err := ParsePublicKey(strings.Repeat("00", 31)); err != ErrInvalidPubKeySize {
		t.Errorf("ParsePublicKey(31 bytes) error = %v, want %v", err, ErrInvalidPubKeySize)
	}
	if _, err := ParsePrivateKey("not hex"); err == nil {
		t.Error("ParsePrivateKey(bad hex) expected error")
	}
}

func TestSignVerify(t *testing.T) {
	kp, _ := GenerateKeyPair()
	image := []byte("microapp image bytes")

	sig := Sign(kp.PrivateKey, image)
	if len(sig) != SignatureSize {
		t.Fatalf("signature length = %d, want %d", len(sig), SignatureSize)
	}
	if err := Verify(kp.PublicKey, image, sig); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	tampered := append([]byte(nil), image...)
	tampered[0] ^= 0x01
	if err := Verify(kp.PublicKey, tampered, sig); err != ErrBadSignature {
		t.Errorf("Verify(tampered) error = %v, want %v", err, ErrBadSignature)
	}

	other, _ := GenerateKeyPair()
	if err := Verify(other.PublicKey, image, sig); err != ErrBadSignature {
		t.Errorf("Verify(other key) error = %v, want %v", err, ErrBadSignature)
	}
	if err := Verify(kp.PublicKey, image, sig[:10]); err != ErrBadSignature {
		t.Errorf("Verify(short sig) error = %v, want %v", err, ErrBadSignature)
	}
}

func TestDigest(t *testing.T) {
	// BLAKE2b-256 of the empty string.
	want := "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8"
	d := Digest(nil)
	if got := hex.EncodeToString(d[:]); got != want {
		t.Errorf("Digest(nil) = %s, want %s", got, want)
	}
}
