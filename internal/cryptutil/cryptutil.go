// Package cryptutil implements the at-rest encryption framing for
// sensitive record content: AES-256-GCM with a PBKDF2-SHA512 derived
// key, magic header CRX1 + salt + IV + tag + ciphertext, built on the
// standard library's crypto/aes, crypto/cipher, and golang.org/x/crypto's
// PBKDF2, the ecosystem's standard choice for this primitive.
package cryptutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/cortex-memory/cortex/internal/cerrors"
)

const (
	magic         = "CRX1"
	saltLen       = 16
	ivLen         = 12
	tagLen        = 16
	keyLen        = 32
	pbkdf2Iters   = 100_000
)

var (
	// ErrWrongSecret is returned when decryption fails authentication,
	// i.e. the secret is wrong or the ciphertext was tampered with.
	ErrWrongSecret = errors.New("cryptutil: decryption failed, wrong secret or corrupted data")
	// ErrBadFraming is returned when the input is too short or lacks
	// the CRX1 magic header.
	ErrBadFraming = errors.New("cryptutil: malformed ciphertext framing")
)

// deriveKey stretches secret into a 32-byte AES-256 key using the given
// salt.
func deriveKey(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, pbkdf2Iters, keyLen, sha512.New)
}

// Encrypt frames plaintext as CRX1(magic) || salt(16) || iv(12) ||
// tag(16) || ciphertext, deriving the AES-256-GCM key from secret and a
// freshly generated random salt.
func Encrypt(secret string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, cerrors.New(cerrors.KindEncryptionError, err)
	}
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, cerrors.New(cerrors.KindEncryptionError, err)
	}

	key := deriveKey(secret, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cerrors.New(cerrors.KindEncryptionError, err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagLen)
	if err != nil {
		return nil, cerrors.New(cerrors.KindEncryptionError, err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil) // ciphertext || tag
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]
	out := make([]byte, 0, len(magic)+saltLen+ivLen+len(sealed))
	out = append(out, []byte(magic)...)
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return out, nil
}

// Decrypt reverses Encrypt. Any authentication or framing failure,
// including a missing or wrong key, returns a clean error, never a
// panic.
func Decrypt(secret string, framed []byte) ([]byte, error) {
	minLen := len(magic) + saltLen + ivLen + tagLen
	if len(framed) < minLen {
		return nil, cerrors.New(cerrors.KindEncryptionError, ErrBadFraming)
	}
	if string(framed[:len(magic)]) != magic {
		return nil, cerrors.New(cerrors.KindEncryptionError, ErrBadFraming)
	}
	off := len(magic)
	salt := framed[off : off+saltLen]
	off += saltLen
	iv := framed[off : off+ivLen]
	off += ivLen
	tag := framed[off : off+tagLen]
	off += tagLen
	// gcm.Open expects ciphertext || tag.
	sealed := append(append([]byte(nil), framed[off:]...), tag...)

	key := deriveKey(secret, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cerrors.New(cerrors.KindEncryptionError, err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagLen)
	if err != nil {
		return nil, cerrors.New(cerrors.KindEncryptionError, err)
	}

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, cerrors.New(cerrors.KindEncryptionError, fmt.Errorf("%w: %v", ErrWrongSecret, err))
	}
	return plaintext, nil
}

// IsFramed reports whether data begins with the CRX1 magic header,
// letting callers distinguish plaintext files from encrypted ones
// before attempting a decrypt.
func IsFramed(data []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}
