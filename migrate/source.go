package migrate

import (
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
)

// fileNamePattern matches migration files like 001_create_users.sql.
var fileNamePattern = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// LoadDir reads migrations from the root of fsys. Files must be named
// NNN_name.sql; anything else is an error so typos do not silently skip a
// migration. Works with os.DirFS and embed.FS alike.
func LoadDir(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := fileNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			return nil, fmt.Errorf("unexpected file in migrations directory: %s", entry.Name())
		}

		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid version in %s: %w", entry.Name(), err)
		}

		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    match[2],
			SQL:     string(data),
		})
	}

	if err := validate(migrations); err != nil {
		return nil, err
	}
	return migrations, nil
}
