// Package assets embeds the files the server needs at runtime: the
// illustration catalog, the built-in level definitions and SQL migrations.
package assets

import (
	"bufio"
	"embed"
	"io/fs"
	"strings"
)

//go:embed illustrations.txt levels.hcl sql/*.sql
var FS embed.FS

// ReadLines reads name from fsys as one entry per line. Surrounding
// whitespace is trimmed; blank lines and lines starting with '#' are skipped.
func ReadLines(fsys fs.FS, name string) ([]string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		out = append(out, s)
	}
	return out, sc.Err()
}

// Illustrations returns the embedded illustration catalog.
func Illustrations() ([]string, error) {
	return ReadLines(FS, "illustrations.txt")
}

// Levels returns the embedded HCL level definitions.
func Levels() ([]byte, error) {
	return FS.ReadFile("levels.hcl")
}

// Migrations returns the SQL migration files rooted at "sql".
func Migrations() fs.FS {
	sub, err := fs.Sub(FS, "sql")
	if err != nil {
		// "sql" is embedded above, so Sub cannot fail.
		panic(err)
	}
	return sub
}
