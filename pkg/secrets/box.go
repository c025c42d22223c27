package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

const sealedV1 = 0x01

var ErrSealed = errors.New("sealed value cannot be opened without a key")

// Box seals values with AES-GCM keyed by sha256(key).
// With an empty key Seal is a passthrough and Open accepts only unsealed input.
// Format: 0x01 | nonce | ciphertext.
type Box struct {
	aead cipher.AEAD
}

func NewBox(key string) (*Box, error) {
	if key == "" {
		return &Box{}, nil
	}
	h := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(h[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: gcm}, nil
}

func (b *Box) Enabled() bool { return b != nil && b.aead != nil }

func (b *Box) Seal(plain []byte) ([]byte, error) {
	if !b.Enabled() {
		return plain, nil
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := b.aead.Seal(nil, nonce, plain, nil)
	out := make([]byte, 1+len(nonce)+len(ct))
	out[0] = sealedV1
	copy(out[1:1+len(nonce)], nonce)
	copy(out[1+len(nonce):], ct)
	return out, nil
}

func (b *Box) Open(blob []byte) ([]byte, error) {
	if !b.Enabled() {
		if len(blob) > 0 && blob[0] == sealedV1 {
			return nil, ErrSealed
		}
		return blob, nil
	}
	if len(blob) < 1+b.aead.NonceSize() || blob[0] != sealedV1 {
		return nil, fmt.Errorf("invalid sealed blob")
	}
	nonce := blob[1 : 1+b.aead.NonceSize()]
	return b.aead.Open(nil, nonce, blob[1+b.aead.NonceSize():], nil)
}

// SealString and OpenString are the text conveniences used by the stores.
func (b *Box) SealString(s Secret) ([]byte, error) { return b.Seal([]byte(s.Reveal())) }

func (b *Box) OpenString(blob []byte) (Secret, error) {
	if len(blob) == 0 {
		return Secret{}, nil
	}
	p, err := b.Open(blob)
	if err != nil {
		return Secret{}, err
	}
	return New(string(p)), nil
}
