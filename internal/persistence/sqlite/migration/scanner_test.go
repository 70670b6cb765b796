package migration

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestFileScanner_ScanMigrations_SortsAndDescribes(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/002_add_index.sql":   {Data: []byte("CREATE INDEX idx ON t(id);")},
		"sql/001_initial.sql":     {Data: []byte("-- Description: initial tables\nCREATE TABLE t (id INTEGER);")},
		"sql/README.md":           {Data: []byte("ignored")},
		"sql/010_ten_percent.sql": {Data: []byte("SELECT 1;")},
	}

	migrations, err := NewFileScanner().ScanMigrations(fsys, "sql")
	if err != nil {
		t.Fatalf("ScanMigrations returned error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	wantVersions := []string{"001", "002", "010"}
	for i, want := range wantVersions {
		if migrations[i].Version != want {
			t.Errorf("migration %d: expected version %s, got %s", i, want, migrations[i].Version)
		}
	}
	if migrations[0].Description != "initial tables" {
		t.Errorf("expected description from header comment, got %q", migrations[0].Description)
	}
	if migrations[1].Description != "add index" {
		t.Errorf("expected description from filename, got %q", migrations[1].Description)
	}
	if migrations[0].Checksum == "" || migrations[0].Checksum == migrations[1].Checksum {
		t.Errorf("expected distinct non-empty checksums")
	}
}

func TestFileScanner_ScanMigrations_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr error
	}{
		{
			name: "duplicate version",
			fsys: fstest.MapFS{
				"sql/001_a.sql": {Data: []byte("SELECT 1;")},
				"sql/001_b.sql": {Data: []byte("SELECT 2;")},
			},
			wantErr: ErrDuplicateVersion,
		},
		{
			name:    "bad filename",
			fsys:    fstest.MapFS{"sql/initial.sql": {Data: []byte("SELECT 1;")}},
			wantErr: ErrInvalidMigrationFile,
		},
		{
			name:    "empty file",
			fsys:    fstest.MapFS{"sql/001_empty.sql": {Data: []byte("  \n")}},
			wantErr: ErrInvalidMigrationFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFileScanner().ScanMigrations(tt.fsys, "sql")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFileScanner_EmbeddedSchema(t *testing.T) {
	migrations, err := NewFileScanner().ScanMigrations(Embedded, EmbeddedDir)
	if err != nil {
		t.Fatalf("embedded migrations failed to scan: %v", err)
	}
	if len(migrations) == 0 || migrations[0].Version != "001" {
		t.Fatalf("expected embedded migrations starting at 001, got %+v", migrations)
	}
}

func TestParseSQL(t *testing.T) {
	content := `-- header
CREATE TABLE a (id INTEGER);

-- comment between
CREATE INDEX idx_a ON a(id);
`
	statements := parseSQL(content)
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(statements), statements)
	}
	if statements[0] != "CREATE TABLE a (id INTEGER)" {
		t.Errorf("unexpected first statement %q", statements[0])
	}
}

func TestParseSQL_CommentsAndLiterals(t *testing.T) {
	content := `-- placements; NULL group is the pool
CREATE TABLE p (g TEXT); -- trailing; comment
INSERT INTO p (g) VALUES ('x;y');
`
	statements := parseSQL(content)
	want := []string{
		"CREATE TABLE p (g TEXT)",
		"INSERT INTO p (g) VALUES ('x;y')",
	}
	if len(statements) != len(want) {
		t.Fatalf("expected %d statements, got %d: %q", len(want), len(statements), statements)
	}
	for i := range want {
		if statements[i] != want[i] {
			t.Errorf("statement %d = %q, want %q", i, statements[i], want[i])
		}
	}
}
