package main

import (
	"strings"
	"testing"
	"testing/fstest"
)

func migrationFS(names ...string) fstest.MapFS {
	fs := fstest.MapFS{}
	for _, name := range names {
		fs[name] = &fstest.MapFile{Data: []byte("SELECT 1;")}
	}

	return fs
}

// ==============================================================================
// Unit Tests: Embedded migration set
// ==============================================================================

func TestEmbeddedSetIsValid(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// The real embedded set shipped in this binary must always validate.
	if err := NewMigrationSet(nil).Validate(); err != nil {
		t.Fatalf("embedded migrations are invalid: %v", err)
	}
}

func TestMigrationSetListFiltersAndSorts(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	set := NewMigrationSet(migrationFS(
		"002_second.up.sql",
		"001_first.up.sql",
		"001_first.down.sql",
		"002_second.down.sql",
		"README.md",
		"notes.sql", // nonconforming name
	))

	files, err := set.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}

	if len(files) != 4 {
		t.Fatalf("List() returned %d files, want 4: %v", len(files), files)
	}

	if files[0] != "001_first.down.sql" || files[3] != "002_second.up.sql" {
		t.Errorf("List() not sorted: %v", files)
	}
}

func TestMigrationSetValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cases := []struct {
		name    string
		files   []string
		wantErr string
	}{
		{
			"valid pair",
			[]string{"001_init.up.sql", "001_init.down.sql"},
			"",
		},
		{
			"empty set",
			nil,
			"no embedded migration files",
		},
		{
			"missing down",
			[]string{"001_init.up.sql"},
			"missing down migration",
		},
		{
			"missing up",
			[]string{"001_init.down.sql"},
			"missing up migration",
		},
		{
			"sequence gap",
			[]string{"001_a.up.sql", "001_a.down.sql", "003_c.up.sql", "003_c.down.sql"},
			"gap in migration sequence",
		},
		{
			"wrong start",
			[]string{"002_b.up.sql", "002_b.down.sql"},
			"should start with 001",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := NewMigrationSet(migrationFS(tc.files...)).Validate()

			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() failed: %v", err)
				}

				return
			}

			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseMigrationFilename(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	info, err := parseMigrationFilename("012_add_judges.up.sql")
	if err != nil {
		t.Fatalf("parseMigrationFilename() failed: %v", err)
	}

	if info.Sequence != 12 || info.Name != "add_judges" || info.Direction != "up" {
		t.Errorf("parsed = %+v", info)
	}

	for _, bad := range []string{"12_short.up.sql", "001-dash.up.sql", "001_x.sideways.sql", "001_x.up.txt"} {
		if _, err := parseMigrationFilename(bad); err == nil {
			t.Errorf("parseMigrationFilename(%q) accepted invalid name", bad)
		}
	}
}

func TestMaxSequence(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	set := NewMigrationSet(migrationFS(
		"001_a.up.sql", "001_a.down.sql",
		"002_b.up.sql", "002_b.down.sql",
	))

	if got := set.MaxSequence(); got != 2 {
		t.Errorf("MaxSequence() = %d, want 2", got)
	}
}
