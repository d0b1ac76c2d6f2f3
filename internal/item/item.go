// Package item models the scripts and installer packages found in the
// managed directories.
package item

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind distinguishes the two executable item types.
type Kind int

const (
	// Script is any plain executable file.
	Script Kind = iota
	// Package is an installer package handed to the platform installer.
	Package
)

func (k Kind) String() string {
	switch k {
	case Script:
		return "script"
	case Package:
		return "package"
	default:
		return "unknown"
	}
}

// Item is one discovered entry. Immutable once discovered; the processor
// owns it for the duration of a single pass.
type Item struct {
	// Path is the absolute path of the item.
	Path string
	// Kind is derived from the file name at discovery time.
	Kind Kind
}

// Name returns the item's base name for logging.
func (i Item) Name() string {
	return filepath.Base(i.Path)
}

// KindOf derives the item kind from a path.
func KindOf(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pkg", ".mpkg":
		return Package
	default:
		return Script
	}
}

// Cadence controls how often an item is eligible to run for a user.
type Cadence int

const (
	// Once runs at most one time per user, subject to override epochs.
	Once Cadence = iota
	// Every runs on every qualifying pass.
	Every
)

func (c Cadence) String() string {
	if c == Once {
		return "once"
	}
	return "every"
}

// Privilege is the execution context a directory category runs under.
type Privilege int

const (
	Standard Privilege = iota
	Elevated
)

func (p Privilege) String() string {
	if p == Elevated {
		return "elevated"
	}
	return "standard"
}

// Policy is the per-directory execution policy supplied by the caller.
type Policy struct {
	Cadence   Cadence
	Privilege Privilege
	// DeleteAfterRun removes the item after processing, regardless of
	// execution outcome. Only the boot-once category sets this.
	DeleteAfterRun bool
}

// Discover lists dir non-recursively and returns its items sorted by name
// ascending, so every pass visits entries in the same order. Dotfiles and
// subdirectories (other than package bundles) are skipped. A missing
// directory yields no items and no error.
func Discover(dir string) ([]Item, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list directory %s: %w", dir, err)
	}

	var items []Item
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(dir, name)
		kind := KindOf(name)
		// A directory is only an item if it is a package bundle.
		if e.IsDir() && kind != Package {
			continue
		}
		items = append(items, Item{Path: path, Kind: kind})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}
