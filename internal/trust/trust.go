// Package trust implements the checksum allow-list. When the list is
// non-empty, every item must match its recorded SHA-256 digest exactly or
// it is rejected; an empty list bypasses trust checking entirely, which
// is the administrator's opt-in.
package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/stagecoach-mdm/stagecoach/internal/item"
	"github.com/stagecoach-mdm/stagecoach/internal/store"
)

// Verdict is the result of verifying one item against the allow-list.
type Verdict int

const (
	// Trusted: the item's digest matches its allow-list entry.
	Trusted Verdict = iota
	// Untrusted: the allow-list is active and the item is absent from it
	// or its digest mismatches.
	Untrusted
	// NotTracked: the allow-list is empty system-wide; checking is
	// bypassed and the item is treated as trusted.
	NotTracked
)

func (v Verdict) String() string {
	switch v {
	case Trusted:
		return "trusted"
	case Untrusted:
		return "untrusted"
	default:
		return "not-tracked"
	}
}

// bundleArchives are the payload candidates inside a package bundle
// directory; the digest covers the first one found, not the bundle tree.
var bundleArchives = []string{
	"Contents/Archive.pax.gz",
	"Contents/Archive.bom",
}

// Store verifies items and maintains the allow-list.
type Store struct {
	db *store.Store
}

// New returns a trust store backed by db.
func New(db *store.Store) *Store {
	return &Store{db: db}
}

// Verify checks one item against the allow-list.
func (s *Store) Verify(it item.Item) (Verdict, error) {
	count, err := s.db.ChecksumCount()
	if err != nil {
		return Untrusted, fmt.Errorf("read allow-list: %w", err)
	}
	if count == 0 {
		return NotTracked, nil
	}

	want, err := s.db.GetChecksum(it.Path)
	if err != nil {
		return Untrusted, fmt.Errorf("read allow-list entry: %w", err)
	}
	if want == "" {
		return Untrusted, nil
	}

	got, err := ComputeHash(it)
	if err != nil {
		// An unreadable item cannot be proven trusted.
		return Untrusted, err
	}
	if got != want {
		return Untrusted, nil
	}
	return Trusted, nil
}

// Record computes an item's digest and stores it in the allow-list.
func (s *Store) Record(it item.Item) (string, error) {
	digest, err := ComputeHash(it)
	if err != nil {
		return "", err
	}
	if err := s.db.SetChecksum(it.Path, digest); err != nil {
		return "", fmt.Errorf("store checksum: %w", err)
	}
	return digest, nil
}

// RegenerateAll recomputes digests for every item currently discovered in
// dirs and rewrites the allow-list wholesale. This is an explicit
// administrator action; it is never run automatically, so a tampered file
// is never silently re-trusted.
func (s *Store) RegenerateAll(dirs []string) ([]store.Checksum, error) {
	var entries []store.Checksum
	for _, dir := range dirs {
		items, err := item.Discover(dir)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			digest, err := ComputeHash(it)
			if err != nil {
				return nil, err
			}
			entries = append(entries, store.Checksum{ItemPath: it.Path, Digest: digest})
		}
	}

	if err := s.db.ReplaceChecksums(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Entries returns the stored allow-list for reporting.
func (s *Store) Entries() ([]store.Checksum, error) {
	return s.db.GetAllChecksums()
}

// ComputeHash returns the hex SHA-256 digest of an item's content. For a
// package bundle directory the digest covers the bundle's primary
// archive, not its contents recursively.
func ComputeHash(it item.Item) (string, error) {
	path, err := hashTarget(it)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashTarget resolves the file the digest is computed over.
func hashTarget(it item.Item) (string, error) {
	info, err := os.Stat(it.Path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", it.Path, err)
	}
	if !info.IsDir() {
		return it.Path, nil
	}
	if it.Kind != item.Package {
		return "", fmt.Errorf("%s is a directory, not a hashable item", it.Path)
	}
	for _, rel := range bundleArchives {
		candidate := filepath.Join(it.Path, rel)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("package bundle %s has no primary archive", it.Path)
}
