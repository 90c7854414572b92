package main

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embeddedMigrations embed.FS

// Migration filenames follow 001_name.up.sql / 001_name.down.sql. The
// strict format keeps lexicographic order equal to apply order.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

type (
	// MigrationSet wraps the embedded migration files with validation:
	// filename format, up/down pairing, and gap-free sequencing. All
	// migrations are embedded at build time, so deployment needs no
	// external files.
	MigrationSet struct {
		fs fs.FS
	}

	// MigrationInfo holds the parsed components of a migration filename.
	MigrationInfo struct {
		Sequence  int
		Name      string
		Direction string // "up" or "down"
		Filename  string
	}
)

// NewMigrationSet creates a MigrationSet. Pass nil to use the embedded
// migrations; tests inject an fstest.MapFS.
func NewMigrationSet(filesystem fs.FS) *MigrationSet {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	return &MigrationSet{fs: filesystem}
}

// FS returns the underlying migration file system for golang-migrate.
func (m *MigrationSet) FS() fs.FS {
	return m.fs
}

// List returns all migration files matching the naming standard, sorted.
// Files with nonconforming names are ignored.
func (m *MigrationSet) List() ([]string, error) {
	entries, err := fs.ReadDir(m.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) == ".sql" && migrationFilenameRegex.MatchString(name) {
			files = append(files, name)
		}
	}

	sort.Strings(files)

	return files, nil
}

// Validate checks the embedded set: at least one migration, every file
// readable and well-named, every up paired with a down, and a gap-free
// sequence starting at 001.
func (m *MigrationSet) Validate() error {
	files, err := m.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	for _, file := range files {
		if _, err := fs.ReadFile(m.fs, file); err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
	}

	if err := m.validatePairing(files); err != nil {
		return err
	}

	return m.validateSequence(files)
}

// MaxSequence returns the highest migration sequence number in the set.
func (m *MigrationSet) MaxSequence() int {
	files, err := m.List()
	if err != nil {
		return 0
	}

	maxSeq := 0

	for _, file := range files {
		if info, err := parseMigrationFilename(file); err == nil && info.Sequence > maxSeq {
			maxSeq = info.Sequence
		}
	}

	return maxSeq
}

// parseMigrationFilename extracts the components of a migration filename.
func parseMigrationFilename(filename string) (*MigrationInfo, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename: %s (expected 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &MigrationInfo{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// validatePairing ensures every up migration has a matching down.
func (m *MigrationSet) validatePairing(files []string) error {
	pairs := make(map[string]map[string]bool) // 001_name -> direction -> present

	for _, file := range files {
		info, err := parseMigrationFilename(file)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if pairs[key] == nil {
			pairs[key] = make(map[string]bool)
		}

		pairs[key][info.Direction] = true
	}

	for key, directions := range pairs {
		if !directions["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !directions["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures sequence numbers start at 001 with no gaps.
func (m *MigrationSet) validateSequence(files []string) error {
	seen := make(map[int]bool)

	for _, file := range files {
		info, err := parseMigrationFilename(file)
		if err != nil {
			return err
		}

		seen[info.Sequence] = true
	}

	sequences := make([]int, 0, len(seen))
	for seq := range seen {
		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] != sequences[i-1]+1 {
			return fmt.Errorf(
				"gap in migration sequence: expected %03d, found %03d",
				sequences[i-1]+1, sequences[i],
			)
		}
	}

	return nil
}
