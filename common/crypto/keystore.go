// Package crypto seals stored command results with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the master key length in bytes.
const KeySize = 32

var (
	ErrInvalidKeySize = fmt.Errorf("key must be exactly %d bytes", KeySize)
	ErrMalformed      = errors.New("sealed payload is malformed")
	ErrNoKey          = errors.New("payload is sealed but no master key is configured")
)

// ParseMasterKey decodes the hex form of a master key. Generate one with:
//
//	openssl rand -hex 32
func ParseMasterKey(rawHex string) ([]byte, error) {
	raw := strings.TrimSpace(rawHex)
	if raw == "" {
		return nil, errors.New("master key is empty")
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("master key is not hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key has %d bytes, need %d (%d hex chars)", len(key), KeySize, KeySize*2)
	}
	return key, nil
}

// Sealer encrypts payloads at rest. A Sealer without a key passes payloads
// through unchanged, so deployments without a master key keep working.
//
// Sealed payloads are laid out as nonce || ciphertext. The associated data
// given to Seal must be given again to Open; the stores pass the row ID so a
// sealed result copied onto another row does not open.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer returns a Sealer for key. A nil or empty key disables sealing.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) == 0 {
		return &Sealer{}, nil
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Enabled reports whether payloads are actually encrypted.
func (s *Sealer) Enabled() bool {
	return s != nil && s.aead != nil
}

// Seal encrypts plaintext bound to ad, or returns it unchanged when sealing
// is disabled.
func (s *Sealer) Seal(plaintext, ad []byte) ([]byte, error) {
	if !s.Enabled() {
		return plaintext, nil
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, ad), nil
}

// Open reverses Seal. sealed tells whether the stored payload was encrypted.
func (s *Sealer) Open(payload []byte, sealed bool, ad []byte) ([]byte, error) {
	if !sealed {
		return payload, nil
	}
	if !s.Enabled() {
		return nil, ErrNoKey
	}
	n := s.aead.NonceSize()
	if len(payload) < n+s.aead.Overhead() {
		return nil, ErrMalformed
	}
	plaintext, err := s.aead.Open(nil, payload[:n], payload[n:], ad)
	if err != nil {
		return nil, fmt.Errorf("open sealed payload: %w", err)
	}
	return plaintext, nil
}
