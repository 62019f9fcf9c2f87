package cryptostore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"
)

// defaultSalt keys the passphrase derivation when no custom salt is
// configured. It only separates treesync keys from other scrypt users; the
// passphrase carries the secrecy.
var defaultSalt = []byte("treesync/cryptostore/v1")

// Keyring holds the derived subkeys of one encryption layer: one AEAD for
// names, one for content, and a MAC key that turns name encryption
// deterministic (same plaintext name, same stored name).
type Keyring struct {
	nameAEAD    cipher.AEAD
	contentAEAD cipher.AEAD
	nameMACKey  []byte
}

// NewKeyring expands a 32-byte master key into the subkeys.
func NewKeyring(master []byte) (*Keyring, error) {
	if len(master) != 32 {
		return nil, errors.New("cryptostore: master key must be 32 bytes")
	}

	expand := func(info string) ([]byte, error) {
		key := make([]byte, 32)
		r := hkdf.New(sha256.New, master, nil, []byte(info))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("cryptostore: derive %s: %w", info, err)
		}
		return key, nil
	}

	nameKey, err := expand("name-key")
	if err != nil {
		return nil, err
	}
	contentKey, err := expand("content-key")
	if err != nil {
		return nil, err
	}
	macKey, err := expand("name-mac-key")
	if err != nil {
		return nil, err
	}

	nameAEAD, err := newAEAD(nameKey)
	if err != nil {
		return nil, err
	}
	contentAEAD, err := newAEAD(contentKey)
	if err != nil {
		return nil, err
	}

	return &Keyring{nameAEAD: nameAEAD, contentAEAD: contentAEAD, nameMACKey: macKey}, nil
}

// KeyringFromPassphrase derives the master key from a passphrase with
// scrypt. Salt may be nil, selecting the fixed application salt; a custom
// salt must then be supplied on every later run against the same data.
func KeyringFromPassphrase(passphrase string, salt []byte) (*Keyring, error) {
	if passphrase == "" {
		return nil, errors.New("cryptostore: empty passphrase")
	}
	if salt == nil {
		salt = defaultSalt
	}
	master, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("cryptostore: scrypt: %w", err)
	}
	return NewKeyring(master)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptostore: aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptostore: gcm: %w", err)
	}
	return aead, nil
}
