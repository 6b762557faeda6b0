// internal/catalog/catalog.go
//
// Provides the illustration catalog the deck builder draws pairs from.
//
// Initialization behavior (Init):
//   1. If a path is given (ILLUSTRATIONS_FILE), load one illustration name per line.
//   2. Otherwise fall back to the embedded default catalog (ill-1.svg … ill-32.svg).
//
// Constraints:
//   • Blank lines and lines starting with '#' are skipped.
//   • Names may not contain whitespace or path separators.
//   • Duplicates are dropped, first occurrence wins, so every entry is distinct.
//   • Initialization is run once (sync.Once).

package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robalobadob/memory/go-server/assets"
)

var (
	initOnce   sync.Once
	entries    []string
	initialErr error
)

// Init loads the catalog exactly once. Returns an error if it ends up empty.
func Init(path string) error {
	initOnce.Do(func() {
		entries, initialErr = Load(path)
	})
	return initialErr
}

// Load reads a catalog from path, or the embedded default when path is empty.
func Load(path string) ([]string, error) {
	var raw []string
	if path == "" {
		var err error
		raw, err = assets.Illustrations()
		if err != nil {
			return nil, fmt.Errorf("catalog: embedded: %w", err)
		}
	} else {
		var err error
		raw, err = assets.ReadLines(os.DirFS(filepath.Dir(path)), filepath.Base(path))
		if err != nil {
			return nil, fmt.Errorf("catalog: %s: %w", path, err)
		}
	}

	out := normalize(raw)
	if len(out) == 0 {
		return nil, errors.New("catalog: illustration list is empty")
	}
	return out, nil
}

// normalize keeps valid, distinct names in their original order.
func normalize(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, name := range list {
		if !validName(name) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func validName(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t/\\") {
		return false
	}
	return s != "." && s != ".."
}

// Entries returns a copy of the loaded catalog.
func Entries() []string {
	return append([]string(nil), entries...)
}

// Size reports how many illustrations are loaded.
func Size() int { return len(entries) }
