// Package envelope implements the crypto primitives of the document
// pipeline: content hashing, per-document envelope encryption, key
// wrapping under a process-wide master key, and HMAC tagging.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var ErrIntegrity = errors.New("envelope: integrity check failed")

// ContentHash returns the canonical document identity: the 0x-prefixed
// lowercase hex SHA-256 of the plaintext bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "0x" + hex.EncodeToString(sum[:])
}

// ContentHashBytes returns the raw 32-byte digest in the form committed
// on-chain.
func ContentHashBytes(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// HashToBytes converts the external 0x-hex form to the raw 32 bytes.
func HashToBytes(h string) ([32]byte, error) {
	var out [32]byte
	if len(h) != 66 || h[0] != '0' || (h[1] != 'x' && h[1] != 'X') {
		return out, fmt.Errorf("envelope: malformed hash %q", h)
	}
	b, err := hex.DecodeString(h[2:])
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// Sealed is the result of encrypting one document. Key is the fresh
// per-document key; callers wrap it and drop the raw value.
type Sealed struct {
	Ciphertext []byte
	Nonce      []byte
	Key        []byte
}

// Encrypt seals data under a freshly generated 256-bit key with
// AES-256-GCM. Every call draws a new key and nonce; key reuse across
// calls is a defect.
func Encrypt(data []byte) (*Sealed, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return &Sealed{
		Ciphertext: gcm.Seal(nil, nonce, data, nil),
		Nonce:      nonce,
		Key:        key,
	}, nil
}

// Decrypt opens a sealed payload. Any tampering of ciphertext or nonce
// fails with ErrIntegrity.
func Decrypt(ciphertext, nonce, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(nonce) != gcm.NonceSize() {
		return nil, ErrIntegrity
	}

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrIntegrity
	}

	return plain, nil
}

// Payload is the artifact form sent to the content store:
// nonce || ciphertext.
func (s *Sealed) Payload() []byte {
	return append(append([]byte(nil), s.Nonce...), s.Ciphertext...)
}

// Open decrypts a stored artifact produced by Payload.
func Open(payload, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(payload) < gcm.NonceSize() {
		return nil, ErrIntegrity
	}

	return Decrypt(payload[gcm.NonceSize():], payload[:gcm.NonceSize()], key)
}

// MasterKey wraps and unwraps per-document keys. The wrapping key is
// derived SHA-256 from the configured secret and never leaves memory.
type MasterKey struct {
	key [32]byte
}

func NewMasterKey(secret []byte) (*MasterKey, error) {
	if len(secret) == 0 {
		return nil, errors.New("envelope: empty master secret")
	}
	return &MasterKey{key: sha256.Sum256(secret)}, nil
}

// Wrap seals a per-document key. The stored form is nonce || ciphertext.
func (m *MasterKey) Wrap(key []byte) ([]byte, error) {
	block, err := aes.NewCipher(m.key[:])
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return append(nonce, gcm.Seal(nil, nonce, key, nil)...), nil
}

// Unwrap recovers a per-document key. Unwrap(Wrap(k)) = k.
func (m *MasterKey) Unwrap(wrapped []byte) ([]byte, error) {
	block, err := aes.NewCipher(m.key[:])
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(wrapped) < gcm.NonceSize() {
		return nil, ErrIntegrity
	}

	key, err := gcm.Open(nil, wrapped[:gcm.NonceSize()], wrapped[gcm.NonceSize():], nil)
	if err != nil {
		return nil, ErrIntegrity
	}

	return key, nil
}

// Hmac tags data under secret with HMAC-SHA256.
func Hmac(data, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyHmac compares tags in constant time.
func VerifyHmac(data, secret, tag []byte) bool {
	return hmac.Equal(Hmac(data, secret), tag)
}
