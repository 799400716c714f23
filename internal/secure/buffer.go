// Package secure provides memory-safe handling of sensitive data.
//
// It wraps memguard so the cached vault session token is encrypted at rest
// in process memory, protected from swapping via mlock, and wiped when no
// longer needed. Nothing in this package ever touches the filesystem.
package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a buffer is used after Destroy.
var ErrDestroyed = errors.New("secure buffer already destroyed")

// Buffer stores a secret inside a memguard enclave. The plaintext only
// exists while a caller holds it open. An empty secret is represented by a
// nil enclave, since memguard cannot seal a zero-length value.
type Buffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewBuffer seals the given bytes into a protected enclave. The caller keeps
// ownership of data and should zero it after the call.
func NewBuffer(data []byte) *Buffer {
	b := &Buffer{}
	if len(data) > 0 {
		b.enclave = memguard.NewEnclave(data)
	}
	return b
}

// String decrypts the buffer and returns the secret as a string.
//
// The returned string is ordinary Go memory; callers must only hand it to
// short-lived consumers such as a child process environment and must never
// log it.
func (b *Buffer) String() (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return "", ErrDestroyed
	}
	if b.enclave == nil {
		return "", nil
	}

	locked, err := b.enclave.Open()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()

	return locked.String(), nil
}

// Destroy drops the enclave and prevents further use. Idempotent.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}

// Destroyed reports whether the buffer has been destroyed.
func (b *Buffer) Destroyed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.destroyed
}
