package storage

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// migrationFilenameRegex matches the up-migration files (NNN_name.up.sql) of
// the naming convention cmd/migrator enforces on the migrations directory;
// down files do not match.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_[a-zA-Z0-9_]+\.up\.sql$`)

// declaredMigrationHead scans migrationsPath for *.up.sql files and returns
// the highest sequence number found - the migration version the running
// binary declares as its head. Readiness compares this against the version
// golang-migrate recorded in the database, so a deploy with new, unapplied
// migrations (clean but stale) is never reported ready.
func declaredMigrationHead(migrationsPath string) (int, error) {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		return 0, fmt.Errorf("read migrations directory %s: %w", migrationsPath, err)
	}

	head := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matches := migrationFilenameRegex.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}

		seq, err := strconv.Atoi(matches[1])
		if err != nil {
			return 0, fmt.Errorf("parse sequence from migration filename %s: %w", entry.Name(), err)
		}

		if seq > head {
			head = seq
		}
	}

	if head == 0 {
		return 0, fmt.Errorf("no migration files found in directory: %s", migrationsPath)
	}

	return head, nil
}
