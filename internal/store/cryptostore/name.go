package cryptostore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Name encryption is deterministic: the nonce is derived from the
// plaintext name with HMAC, so the same name always maps to the same
// stored name and directory matching keeps working across runs. The wire
// form is base64url(nonce || ciphertext) with no padding, safe for every
// backend's name rules.

const nameNonceLen = 12

var nameAAD = []byte("treesync:name")

func (k *Keyring) encryptName(name string) string {
	mac := hmac.New(sha256.New, k.nameMACKey)
	mac.Write([]byte(name))
	nonce := mac.Sum(nil)[:nameNonceLen]

	sealed := k.nameAEAD.Seal(nil, nonce, []byte(name), nameAAD)
	return base64.RawURLEncoding.EncodeToString(append(nonce, sealed...))
}

// decryptName rejects anything this layer could not have produced: a name
// that fails to decode or authenticate is an error, never passed through,
// so the engine cannot mistake foreign data for synced content.
func (k *Keyring) decryptName(stored string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadName, stored)
	}
	if len(raw) < nameNonceLen+k.nameAEAD.Overhead() {
		return "", fmt.Errorf("%w: %q", ErrBadName, stored)
	}

	nonce, sealed := raw[:nameNonceLen], raw[nameNonceLen:]
	name, err := k.nameAEAD.Open(nil, nonce, sealed, nameAAD)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadName, stored)
	}
	return string(name), nil
}
