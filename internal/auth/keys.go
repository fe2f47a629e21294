// ABOUTME: Ed25519 key generation and PEM parsing for token signing and verification
// ABOUTME: Private keys may be plain or encrypted PKCS#8, or passphrase-protected OpenSSH PEM

package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/ssh"
)

// PEM block types understood by ParsePrivateKey.
const (
	pemTypePKCS8          = "PRIVATE KEY"
	pemTypeEncryptedPKCS8 = "ENCRYPTED PRIVATE KEY"
	pemTypeOpenSSH        = "OPENSSH PRIVATE KEY"
	pemTypePublic         = "PUBLIC KEY"
)

// ErrPasswordRequired is returned when an encrypted key is loaded without a password.
var ErrPasswordRequired = errors.New("private key is encrypted and no password was given")

// GenerateKeyPair creates a new Ed25519 key pair and returns both halves
// PEM encoded. The private key is PKCS#8, encrypted (PBES2, AES-256-CBC)
// when password is non-empty.
func GenerateKeyPair(password []byte) (privatePEM, publicPEM []byte, err error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 key: %w", err)
	}

	publicDER, err := x509.MarshalPKIXPublicKey(public)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding public key: %w", err)
	}
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: pemTypePublic, Bytes: publicDER})

	block := &pem.Block{Type: pemTypePKCS8}
	if len(password) > 0 {
		block.Type = pemTypeEncryptedPKCS8
		block.Bytes, err = pkcs8.MarshalPrivateKey(private, password, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("encrypting private key: %w", err)
		}
	} else {
		block.Bytes, err = x509.MarshalPKCS8PrivateKey(private)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding private key: %w", err)
		}
	}

	return pem.EncodeToMemory(block), publicPEM, nil
}

// ParsePublicKey decodes a PEM SubjectPublicKeyInfo block holding an Ed25519 key.
func ParsePublicKey(data []byte) (ed25519.PublicKey, error) {
	key, err := jwt.ParseEdPublicKeyFromPEM(data)
	if err != nil {
		return nil, err
	}
	public, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not Ed25519", key)
	}
	return public, nil
}

// ParsePrivateKey decodes a PEM private key, decrypting it with password
// when it is an encrypted PKCS#8 or OpenSSH block.
func ParsePrivateKey(data, password []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	switch block.Type {
	case pemTypePKCS8:
		key, err := jwt.ParseEdPrivateKeyFromPEM(data)
		if err != nil {
			return nil, err
		}
		private, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, not Ed25519", key)
		}
		return private, nil

	case pemTypeOpenSSH:
		return parseOpenSSHKey(data, password)

	case pemTypeEncryptedPKCS8:
		if len(password) == 0 {
			return nil, ErrPasswordRequired
		}
		raw, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, password)
		if err != nil {
			return nil, fmt.Errorf("decrypting private key: %w", err)
		}
		return asEd25519(raw)

	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

func parseOpenSSHKey(data, password []byte) (ed25519.PrivateKey, error) {
	var (
		raw any
		err error
	)
	if len(password) > 0 {
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(data, password)
	} else {
		raw, err = ssh.ParseRawPrivateKey(data)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, ErrPasswordRequired
		}
		return nil, err
	}

	return asEd25519(raw)
}

func asEd25519(raw any) (ed25519.PrivateKey, error) {
	switch key := raw.(type) {
	case ed25519.PrivateKey:
		return key, nil
	case *ed25519.PrivateKey:
		return *key, nil
	default:
		return nil, fmt.Errorf("private key is %T, not Ed25519", raw)
	}
}

// LoadPrivateKey reads and parses the private key at path. Every failure is
// returned as a *KeyLoadError.
func LoadPrivateKey(path string, password []byte) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &KeyLoadError{Path: path, Err: err}
	}
	key, err := ParsePrivateKey(data, password)
	if err != nil {
		return nil, &KeyLoadError{Path: path, Err: err}
	}
	return key, nil
}
