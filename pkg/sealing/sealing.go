// Package sealing implements the enclave's data-pool confidentiality layer:
// HKDF-derived per-seal keys over an attestation-bound root secret, and
// AES-128-GCM authenticated encryption of canonical JSON.
//
// Blob layout (byte-exact): salt(16) || nonce(12) || ciphertext||tag.
package sealing

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/Mindburn-Labs/enclave/pkg/canonicalize"
	"github.com/Mindburn-Labs/enclave/pkg/errs"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 16 // AES-128
	hkdfInfo  = "sealing"
)

// Root is the attestation-bound root secret. It is read once at enclave
// startup and never copied outside the process beyond this wrapper; callers
// should hold it in a single long-lived *Core and never log or serialize it.
type Root [keySize]byte

// NewRoot validates a raw root secret read from the attestation-key
// surface. It must be exactly 16 bytes, per spec.
func NewRoot(raw []byte) (Root, error) {
	var r Root
	if len(raw) != keySize {
		return r, errs.New(errs.Configuration, "InvalidRootLength",
			fmt.Sprintf("attestation root must be %d bytes, got %d", keySize, len(raw)))
	}
	copy(r[:], raw)
	return r, nil
}

// Core seals and unseals pool payloads for one enclave identity.
type Core struct {
	root Root
}

// NewCore builds a Core bound to the given attestation root.
func NewCore(root Root) *Core {
	return &Core{root: root}
}

// Seal canonicalizes plaintext (a JSON-serializable value, typically a JSON
// object decoded with json.Number preserved), derives a fresh per-seal key
// from a random salt, and returns salt||nonce||ciphertext||tag.
func (c *Core) Seal(plaintext any) ([]byte, error) {
	canonical, err := canonicalize.JCS(plaintext)
	if err != nil {
		return nil, errs.Wrap(errs.Format, "SealedFormat", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errs.Wrap(errs.Resource, "SealRandom", err)
	}

	key, err := deriveKey(c.root, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Wrap(errs.Resource, "SealRandom", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "SealCipher", err)
	}

	ciphertext := gcm.Seal(nil, nonce, canonical, nil)

	blob := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	return blob, nil
}

// Unseal reverses Seal and parses the plaintext back into a JSON object.
func (c *Core) Unseal(blob []byte) (map[string]any, error) {
	if len(blob) < saltSize+nonceSize {
		return nil, errs.New(errs.Format, "SealedFormat", "sealed blob shorter than 28 bytes")
	}

	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	ciphertext := blob[saltSize+nonceSize:]

	key, err := deriveKey(c.root, salt)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "SealCipher", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.Wrap(errs.IntegrityVerify, "SealedIntegrity", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(plaintext))
	decoder.UseNumber()
	var obj map[string]any
	if err := decoder.Decode(&obj); err != nil {
		return nil, errs.Wrap(errs.Format, "SealedFormat", err)
	}
	return obj, nil
}

func deriveKey(root Root, salt []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, root[:], salt, []byte(hkdfInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, errs.Wrap(errs.Configuration, "KeyDerivation", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
