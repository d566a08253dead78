package tokenstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24

	slotDirMode  = 0o700
	slotFileMode = 0o600
)

// ErrSealed is returned when a sealed slot cannot be opened with the
// configured secret.
var ErrSealed = errors.New("slot cannot be opened with the configured secret")

// FileSlot stores the token in a single named file. When a secret is
// configured the content is sealed with NaCl secretbox.
type FileSlot struct {
	path string
	key  *[keySize]byte
}

// NewFileSlot creates a slot at dir/name. secret may be empty, in which
// case the token is stored in plain text with owner-only permissions.
func NewFileSlot(dir, name, secret string) (*FileSlot, error) {
	if dir == "" {
		return nil, fmt.Errorf("slot directory is required")
	}
	if name == "" {
		return nil, fmt.Errorf("slot name is required")
	}

	slot := &FileSlot{path: filepath.Join(dir, name)}
	if secret != "" {
		key, err := deriveKey(secret, name)
		if err != nil {
			return nil, err
		}
		slot.key = key
	}
	return slot, nil
}

// Path returns the file backing the slot.
func (f *FileSlot) Path() string {
	return f.path
}

// Load reads the token. A missing file is an empty slot.
func (f *FileSlot) Load(_ context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading slot file: %w", err)
	}
	if f.key == nil {
		return string(data), nil
	}
	return f.open(data)
}

// Save writes the token atomically via a temp file and rename.
func (f *FileSlot) Save(_ context.Context, raw string) error {
	data := []byte(raw)
	if f.key != nil {
		sealed, err := f.seal(data)
		if err != nil {
			return err
		}
		data = sealed
	}

	if err := os.MkdirAll(filepath.Dir(f.path), slotDirMode); err != nil {
		return fmt.Errorf("creating slot directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".slot-*")
	if err != nil {
		return fmt.Errorf("creating temp slot file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(slotFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting slot permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing slot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing slot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing slot file: %w", err)
	}
	return nil
}

// Delete removes the slot file.
func (f *FileSlot) Delete(_ context.Context) error {
	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing slot file: %w", err)
	}
	return nil
}

func (f *FileSlot) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, f.key), nil
}

func (f *FileSlot) open(sealed []byte) (string, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", ErrSealed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, f.key)
	if !ok {
		return "", ErrSealed
	}
	return string(plain), nil
}

// deriveKey expands the configured secret into a per-slot key.
func deriveKey(secret, name string) (*[keySize]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("adminsession slot "+name))
	var key [keySize]byte
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return nil, fmt.Errorf("deriving slot key: %w", err)
	}
	return &key, nil
}

// Verify interface compliance.
var _ Slot = (*FileSlot)(nil)
