// Package keyvault stores wallet private keys encrypted at rest with
// AES-256-GCM and hands out plaintext for the narrowest possible scope.
// Sealed blobs are written through a backing store so keys survive restarts.
package keyvault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrKeyNotFound is returned for an unknown key reference.
var ErrKeyNotFound = errors.New("key not found")

// Store persists sealed key blobs. LoadKey returns (nil, nil) for an unknown
// ref.
type Store interface {
	SaveKey(ctx context.Context, ref string, blob []byte) error
	LoadKey(ctx context.Context, ref string) ([]byte, error)
}

// Vault encrypts and decrypts key material. Ciphertexts are cached in memory
// keyed by reference and written through to the store; the master key comes
// from configuration. A nil store keeps blobs in memory only.
type Vault struct {
	aead  cipher.AEAD
	store Store

	mu   sync.RWMutex
	keys map[string][]byte // ref -> nonce||ciphertext
}

// New derives the AES key from the master secret.
func New(masterSecret string, store Store) (*Vault, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("key vault master secret is required")
	}
	sum := sha256.Sum256([]byte(masterSecret))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Vault{aead: aead, store: store, keys: make(map[string][]byte)}, nil
}

// Store encrypts and retains private key material, returning nothing; the
// caller addresses it by ref afterwards. The ref is bound into the AEAD as
// associated data so ciphertexts cannot be swapped between wallets.
func (v *Vault) Store(ctx context.Context, ref string, material []byte) error {
	if ref == "" {
		return fmt.Errorf("key reference is required")
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	blob := append(nonce, v.aead.Seal(nil, nonce, material, []byte(ref))...)

	if v.store != nil {
		if err := v.store.SaveKey(ctx, ref, blob); err != nil {
			return fmt.Errorf("persist key %s: %w", ref, err)
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[ref] = blob
	return nil
}

// StoreHex is Store for hex-encoded key material.
func (v *Vault) StoreHex(ctx context.Context, ref, hexMaterial string) error {
	material, err := hex.DecodeString(hexMaterial)
	if err != nil {
		return fmt.Errorf("decode key material: %w", err)
	}
	defer Zero(material)
	return v.Store(ctx, ref, material)
}

// Decrypt returns ephemeral plaintext key material. The caller must zero it
// immediately after use; see Zero.
func (v *Vault) Decrypt(ctx context.Context, ref string) ([]byte, error) {
	blob, err := v.blobFor(ctx, ref)
	if err != nil {
		return nil, err
	}

	ns := v.aead.NonceSize()
	if len(blob) < ns {
		return nil, fmt.Errorf("corrupt key blob for %s", ref)
	}
	material, err := v.aead.Open(nil, blob[:ns], blob[ns:], []byte(ref))
	if err != nil {
		return nil, fmt.Errorf("decrypt key %s: %w", ref, err)
	}
	return material, nil
}

// blobFor serves from the cache, falling back to the store after a restart.
func (v *Vault) blobFor(ctx context.Context, ref string) ([]byte, error) {
	v.mu.RLock()
	blob, ok := v.keys[ref]
	v.mu.RUnlock()
	if ok {
		return blob, nil
	}
	if v.store == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, ref)
	}

	blob, err := v.store.LoadKey(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load key %s: %w", ref, err)
	}
	if blob == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, ref)
	}
	v.mu.Lock()
	v.keys[ref] = blob
	v.mu.Unlock()
	return blob, nil
}

// Zero overwrites plaintext key material.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
