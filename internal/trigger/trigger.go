// Package trigger implements the zero-byte trigger files that hand
// execution off between lifecycle phases. Existence is the whole signal:
// one phase creates the file, a later phase (or the deferred sweep)
// checks and deletes it. Whichever side deletes first wins; there is no
// handshake beyond that.
package trigger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Trigger is the capability pair for one trigger channel. It is an
// interface so tests can swap the filesystem marker for an in-memory flag.
type Trigger interface {
	// Create raises the trigger. Raising an already-present trigger is a
	// no-op.
	Create() error
	// CheckAndDelete consumes the trigger, reporting whether it was
	// present. Consuming an absent trigger is not an error.
	CheckAndDelete() (bool, error)
}

// File is the production Trigger backed by a marker file.
type File struct {
	Path string
}

// NewFile returns a file-backed trigger at path.
func NewFile(path string) *File {
	return &File{Path: path}
}

// Create writes the zero-byte marker, creating parent directories as
// needed.
func (f *File) Create() error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("create trigger directory: %w", err)
	}
	file, err := os.OpenFile(f.Path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create trigger %s: %w", f.Path, err)
	}
	return file.Close()
}

// CheckAndDelete removes the marker if present. ENOENT means another
// actor consumed it first; that is the expected race, not an error.
func (f *File) CheckAndDelete() (bool, error) {
	err := os.Remove(f.Path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("consume trigger %s: %w", f.Path, err)
}

// Memory is an in-process Trigger for tests.
type Memory struct {
	mu  sync.Mutex
	set bool
}

// Create raises the flag.
func (m *Memory) Create() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = true
	return nil
}

// CheckAndDelete lowers the flag, reporting whether it was raised.
func (m *Memory) CheckAndDelete() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.set
	m.set = false
	return was, nil
}
