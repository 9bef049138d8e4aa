// Package keys manages the SSH host key of the SFTP server.
package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Generate returns a new PEM encoded private key. algorithm is one of
// "ed25519" (the default when empty), "rsa" or "ecdsa".
func Generate(algorithm string) ([]byte, error) {
	switch strings.ToLower(algorithm) {
	case "", "ed25519":
		return GenerateED25519()
	case "rsa":
		return GenerateRSA(3072)
	case "ecdsa":
		return GenerateECDSA(256)
	}
	return nil, fmt.Errorf("unsupported host key algorithm %q", algorithm)
}

// GenerateRSA generates a new RSA private key in PEM format.
func GenerateRSA(bitSize int) ([]byte, error) {
	switch bitSize {
	case 2048, 3072, 4096:
	default:
		return nil, fmt.Errorf("invalid bit size: %d", bitSize)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		return nil, fmt.Errorf("error generating RSA private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}), nil
}

// GenerateECDSA generates a new ECDSA private key in PEM format.
func GenerateECDSA(bitSize int) ([]byte, error) {
	var curve elliptic.Curve
	switch bitSize {
	case 256:
		curve = elliptic.P256()
	case 384:
		curve = elliptic.P384()
	case 521:
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported bit size: %d", bitSize)
	}

	privateKey, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("error generating ECDSA private key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("error marshaling ECDSA private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// GenerateED25519 generates a new Ed25519 private key in PEM format.
func GenerateED25519() ([]byte, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("error generating EdDSA private key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("error marshaling EdDSA private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// LoadOrGenerate returns the host key stored at path. A missing file is
// created with a new key of the given algorithm. An empty path yields an
// ephemeral key that is never written.
func LoadOrGenerate(path, algorithm string) (ssh.Signer, error) {
	if path != "" {
		pemBytes, err := os.ReadFile(path)
		if err == nil {
			signer, err := ssh.ParsePrivateKey(pemBytes)
			if err != nil {
				return nil, fmt.Errorf("error parsing host key %s: %w", path, err)
			}
			return signer, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading host key: %w", err)
		}
	}

	pemBytes, err := Generate(algorithm)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("error creating host key directory: %w", err)
		}
		if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
			return nil, fmt.Errorf("error writing host key: %w", err)
		}
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("error parsing generated host key: %w", err)
	}
	return signer, nil
}
