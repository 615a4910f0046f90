// Package migrations carries the SQL schema compiled into the binary so
// database initialization does not depend on the working directory.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// GetInitialSchema returns the full schema as a single SQL script, with
// migration files applied in lexical order.
func GetInitialSchema() (string, error) {
	entries, err := fs.ReadDir(schemaFS, "sql")
	if err != nil {
		return "", fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var schema string
	for _, name := range names {
		content, err := schemaFS.ReadFile("sql/" + name)
		if err != nil {
			return "", fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		schema += string(content) + "\n"
	}

	if schema == "" {
		return "", fmt.Errorf("no embedded migration files found")
	}
	return schema, nil
}
