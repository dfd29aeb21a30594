// Package assets embeds the SQLite schema migrations.
package assets

import (
	"embed"
	"path"
	"sort"
	"strings"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embedFS embed.FS

// Migrations returns the embedded migration file names in apply order.
func Migrations() ([]string, error) {
	entries, err := embedFS.ReadDir(migrationsDir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	return names, nil
}

// Migration returns the SQL of one migration file.
func Migration(name string) (string, error) {
	raw, err := embedFS.ReadFile(path.Join(migrationsDir, name))
	if err != nil {
		return "", err
	}

	return string(raw), nil
}
