// Package sharecipher protects key fragments at rest.
//
// Fragments are sealed with AES-256-GCM using a fresh 16-byte IV per call and a
// 16-byte tag. The sealed form serializes as "iv:tag:ciphertext" in hex.
// Per-record keys are derived from a master secret with HKDF-SHA256.
package sharecipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	KeySize = 32
	IVSize  = 16
	TagSize = 16

	// FragmentInfo is the HKDF info string for wallet key fragments.
	FragmentInfo = "tss-coordinator/key-fragment/v1"
)

var (
	ErrInvalidKey    = errors.New("cipher key must be 32 bytes")
	ErrDecrypt       = errors.New("ciphertext authentication failed")
	ErrMalformed     = errors.New("malformed sealed value")
	ErrMasterTooWeak = errors.New("master secret must be at least 32 bytes")
)

// Sealed is one encrypted value.
type Sealed struct {
	IV         []byte
	Tag        []byte
	Ciphertext []byte
}

// Encrypt seals plaintext under a 32-byte key.
func Encrypt(plaintext, key []byte) (*Sealed, error) {
	return encrypt(rand.Reader, plaintext, key)
}

func encrypt(r io.Reader, plaintext, key []byte) (*Sealed, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(r, iv); err != nil {
		return nil, fmt.Errorf("failed to read iv: %w", err)
	}
	out := aead.Seal(nil, iv, plaintext, nil)
	split := len(out) - TagSize
	return &Sealed{
		IV:         iv,
		Tag:        out[split:],
		Ciphertext: out[:split],
	}, nil
}

// Decrypt opens a sealed value. A wrong key or any modified byte fails with ErrDecrypt.
func Decrypt(s *Sealed, key []byte) ([]byte, error) {
	if s == nil || len(s.IV) != IVSize || len(s.Tag) != TagSize {
		return nil, ErrMalformed
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(s.Ciphertext)+TagSize)
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag...)
	pt, err := aead.Open(nil, s.IV, buf, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, IVSize)
}

// String serializes s as "iv:tag:ciphertext" hex.
func (s *Sealed) String() string {
	return hex.EncodeToString(s.IV) + ":" + hex.EncodeToString(s.Tag) + ":" + hex.EncodeToString(s.Ciphertext)
}

// Parse is the strict inverse of String.
func Parse(encoded string) (*Sealed, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformed, len(parts))
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %v", ErrMalformed, err)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: tag: %v", ErrMalformed, err)
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformed, err)
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes", ErrMalformed, IVSize)
	}
	if len(tag) != TagSize {
		return nil, fmt.Errorf("%w: tag must be %d bytes", ErrMalformed, TagSize)
	}
	return &Sealed{IV: iv, Tag: tag, Ciphertext: ct}, nil
}

// DeriveKey expands master into a 32-byte key bound to salt and info.
func DeriveKey(master, salt []byte, info string) ([]byte, error) {
	if len(master) < KeySize {
		return nil, ErrMasterTooWeak
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// Cipher seals records under keys derived from one master secret.
type Cipher struct {
	master []byte
	info   string
}

// New builds a Cipher over master using info for every derivation.
func New(master []byte, info string) (*Cipher, error) {
	if len(master) < KeySize {
		return nil, ErrMasterTooWeak
	}
	m := make([]byte, len(master))
	copy(m, master)
	return &Cipher{master: m, info: info}, nil
}

// Seal encrypts plaintext for the record identified by salt and returns its serialized form.
func (c *Cipher) Seal(plaintext, salt []byte) (string, error) {
	key, err := DeriveKey(c.master, salt, c.info)
	if err != nil {
		return "", err
	}
	defer wipe(key)
	s, err := Encrypt(plaintext, key)
	if err != nil {
		return "", err
	}
	return s.String(), nil
}

// Open reverses Seal.
func (c *Cipher) Open(encoded string, salt []byte) ([]byte, error) {
	s, err := Parse(encoded)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(c.master, salt, c.info)
	if err != nil {
		return nil, err
	}
	defer wipe(key)
	return Decrypt(s, key)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
