// Package crypto seals stored credentials with AES-256-GCM. Each ciphertext
// is bound to the column it was written to (as associated data) and tagged
// with the id of the key that produced it, so a Keyring can keep reading rows
// written under a retired key while new rows use the primary one.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnknownKey is returned when no key in the ring matches a stored key id.
	ErrUnknownKey = errors.New("no key for stored key id")
	// ErrOpen hides the reason an authenticated open failed.
	ErrOpen = errors.New("decryption failed: authentication or integrity check failed")
)

// Encryptor seals and opens byte strings. field is authenticated but not
// encrypted; opening with a different field fails.
type Encryptor interface {
	Seal(field string, plaintext []byte) ([]byte, error)
	Open(field string, ciphertext []byte) ([]byte, error)
	KeyID() string
}

// AESEncryptor implements Encryptor with a single 32-byte key.
type AESEncryptor struct {
	aead  cipher.AEAD
	keyID string
}

// NewAESEncryptor builds an encryptor from a base64-encoded 32-byte key, as
// produced by `openssl rand -base64 32`.
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, errors.New("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	sum := sha256.Sum256(key)
	return &AESEncryptor{aead: aead, keyID: hex.EncodeToString(sum[:4])}, nil
}

// KeyID is a short fingerprint of the key, safe to store next to ciphertext.
func (e *AESEncryptor) KeyID() string { return e.keyID }

// Seal returns nonce || ciphertext || tag.
func (e *AESEncryptor) Seal(field string, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext is empty")
	}
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, []byte(field)), nil
}

func (e *AESEncryptor) Open(field string, ciphertext []byte) ([]byte, error) {
	n := e.aead.NonceSize()
	if len(ciphertext) < n+e.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(ciphertext))
	}
	plaintext, err := e.aead.Open(nil, ciphertext[:n], ciphertext[n:], []byte(field))
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}

// Keyring seals with its primary key and opens with whichever key wrote the
// value.
type Keyring struct {
	primary Encryptor
	byID    map[string]Encryptor
}

// NewKeyring returns a ring whose primary key is primary; retired keys stay
// available for Open.
func NewKeyring(primary Encryptor, retired ...Encryptor) *Keyring {
	r := &Keyring{primary: primary, byID: map[string]Encryptor{primary.KeyID(): primary}}
	for _, e := range retired {
		if _, dup := r.byID[e.KeyID()]; !dup {
			r.byID[e.KeyID()] = e
		}
	}
	return r
}

// LoadKeyring builds a ring from base64 keys: primary seals, retired keys
// only open.
func LoadKeyring(primary string, retired []string) (*Keyring, error) {
	p, err := NewAESEncryptor(primary)
	if err != nil {
		return nil, fmt.Errorf("primary key: %w", err)
	}
	old := make([]Encryptor, 0, len(retired))
	for i, k := range retired {
		e, err := NewAESEncryptor(k)
		if err != nil {
			return nil, fmt.Errorf("retired key %d: %w", i+1, err)
		}
		old = append(old, e)
	}
	return NewKeyring(p, old...), nil
}

// Primary is the key new values are sealed with.
func (r *Keyring) Primary() Encryptor { return r.primary }

// Lookup returns the key with the given id.
func (r *Keyring) Lookup(keyID string) (Encryptor, error) {
	e, ok := r.byID[keyID]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKey, keyID)
	}
	return e, nil
}

// SealString seals s for storage in a text column. Empty strings stay empty.
func SealString(enc Encryptor, field, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	ct, err := enc.Seal(field, []byte(s))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// OpenString reverses SealString.
func OpenString(enc Encryptor, field, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	ct, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	pt, err := enc.Open(field, ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
