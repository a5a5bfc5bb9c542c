package auth

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidKey       = errors.New("invalid public key")
	ErrInvalidSignature = errors.New("signature verification failed")
)

// Verify checks that sigHex signs message under pubHex. The key is either a
// hex DER RSA key (PKIX or PKCS#1) with a PKCS#1 v1.5 SHA-256 signature, or
// a raw 32-byte Ed25519 key.
func Verify(message, pubHex, sigHex string) error {
	pub, err := hex.DecodeString(strings.TrimSpace(pubHex))
	if err != nil || len(pub) == 0 {
		return ErrInvalidKey
	}
	sig, err := hex.DecodeString(strings.TrimSpace(sigHex))
	if err != nil || len(sig) == 0 {
		return ErrInvalidSignature
	}

	if len(pub) == ed25519.PublicKeySize {
		return verifyEd25519(ed25519.PublicKey(pub), message, sig)
	}

	key, err := parsePublicKey(pub)
	if err != nil {
		return err
	}
	switch k := key.(type) {
	case *rsa.PublicKey:
		digest := sha256.Sum256([]byte(message))
		if err := rsa.VerifyPKCS1v15(k, crypto.SHA256, digest[:], sig); err != nil {
			return ErrInvalidSignature
		}
		return nil
	case ed25519.PublicKey:
		return verifyEd25519(k, message, sig)
	default:
		return fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, key)
	}
}

func verifyEd25519(pub ed25519.PublicKey, message string, sig []byte) error {
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(pub, []byte(message), sig) {
		return ErrInvalidSignature
	}
	return nil
}

func parsePublicKey(der []byte) (any, error) {
	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return key, nil
	}
	return nil, ErrInvalidKey
}
