// Package levels provides the playable boards. Levels come from the embedded
// defaults or from an HCL file of the form:
//
//	level "easy" {
//	  title      = "🟢 Easy"
//	  subtitle   = "4×4 (16 cards)"
//	  grid       = "4x4"
//	  pair_count = 8
//	  icon       = "/Box-Layout/1.png"
//	}
package levels

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/robalobadob/memory/go-server/assets"
	"github.com/robalobadob/memory/go-server/internal/game"
)

// File is the root of a levels HCL document.
type File struct {
	Levels []Block `hcl:"level,block"`
}

// Block is one `level "name" { ... }` definition.
type Block struct {
	Name      string `hcl:"name,label"`
	Title     string `hcl:"title,optional"`
	Subtitle  string `hcl:"subtitle,optional"`
	Grid      string `hcl:"grid,optional"`
	PairCount int    `hcl:"pair_count"`
	Icon      string `hcl:"icon,optional"`
}

// Defaults returns the embedded easy/medium/hard levels.
func Defaults() ([]game.Level, error) {
	src, err := assets.Levels()
	if err != nil {
		return nil, fmt.Errorf("read embedded levels: %w", err)
	}
	return Parse(src, "levels.hcl")
}

// Load reads levels from filename, or returns Defaults when filename is empty
// or does not exist.
func Load(filename string) ([]game.Level, error) {
	if filename == "" {
		return Defaults()
	}
	src, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return Defaults()
	}
	if err != nil {
		return nil, fmt.Errorf("read levels file: %w", err)
	}
	return Parse(src, filename)
}

// Parse decodes an HCL levels document.
func Parse(src []byte, filename string) ([]game.Level, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var doc File
	diags = gohcl.DecodeBody(file.Body, nil, &doc)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	out := make([]game.Level, 0, len(doc.Levels))
	for _, b := range doc.Levels {
		lvl := game.Level{
			Name:      strings.ToLower(strings.TrimSpace(b.Name)),
			Title:     b.Title,
			Subtitle:  b.Subtitle,
			Grid:      b.Grid,
			Icon:      b.Icon,
			PairCount: b.PairCount,
		}
		// Apply defaults for missing values
		if lvl.Title == "" {
			lvl.Title = b.Name
		}
		if lvl.Subtitle == "" {
			lvl.Subtitle = fmt.Sprintf("%d cards", 2*lvl.PairCount)
		}
		out = append(out, lvl)
	}
	return out, nil
}

// Validate checks that every level can be dealt from a catalog of
// catalogSize illustrations and that grids hold exactly the dealt cards.
func Validate(levels []game.Level, catalogSize int) error {
	if len(levels) == 0 {
		return fmt.Errorf("at least one level must be configured")
	}
	seen := map[string]bool{}
	for _, l := range levels {
		if l.Name == "" {
			return fmt.Errorf("level name must not be empty")
		}
		if seen[l.Name] {
			return fmt.Errorf("level %s: defined twice", l.Name)
		}
		seen[l.Name] = true

		if l.PairCount < 1 || l.PairCount > catalogSize {
			return fmt.Errorf("level %s: %w: pair_count %d must be between 1 and %d",
				l.Name, game.ErrInvalidLevelConfig, l.PairCount, catalogSize)
		}
		if l.Grid != "" {
			rows, cols, err := ParseGrid(l.Grid)
			if err != nil {
				return fmt.Errorf("level %s: %w", l.Name, err)
			}
			if rows*cols != 2*l.PairCount {
				return fmt.Errorf("level %s: grid %s holds %d cards, want %d",
					l.Name, l.Grid, rows*cols, 2*l.PairCount)
			}
		}
	}
	return nil
}

// ParseGrid splits a "RxC" descriptor.
func ParseGrid(grid string) (rows, cols int, err error) {
	r, c, ok := strings.Cut(strings.ToLower(grid), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid grid %q", grid)
	}
	rows, err1 := strconv.Atoi(strings.TrimSpace(r))
	cols, err2 := strconv.Atoi(strings.TrimSpace(c))
	if err1 != nil || err2 != nil || rows < 1 || cols < 1 {
		return 0, 0, fmt.Errorf("invalid grid %q", grid)
	}
	return rows, cols, nil
}

// Find returns the level called name (case-insensitive).
func Find(levels []game.Level, name string) (*game.Level, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i := range levels {
		if levels[i].Name == name {
			l := levels[i]
			return &l, true
		}
	}
	return nil, false
}
