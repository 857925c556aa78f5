package migrate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(`create table a(id text); insert into a values ('x;y'); `)
	if len(stmts) != 2 {
		t.Fatalf("statements = %d: %q", len(stmts), stmts)
	}
	if stmts[1] != ` insert into a values ('x;y');` {
		t.Fatalf("semicolon inside a string literal split: %q", stmts[1])
	}
}

func TestSplitStatementsKeepsTrailingFragment(t *testing.T) {
	stmts := splitStatements("select 1")
	if len(stmts) != 1 || stmts[0] != "select 1" {
		t.Fatalf("statements = %q", stmts)
	}
}

func TestCollectSQLSortedByName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_second.up.sql", "0001_first.up.sql", "0001_first.down.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("select 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := collectSQL(dir, ".up.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %d", len(files))
	}
	if files[0].Base != "0001_first.up.sql" || files[1].Base != "0002_second.up.sql" {
		t.Fatalf("order = %s, %s", files[0].Base, files[1].Base)
	}
}

func TestCollectSQLMissingDir(t *testing.T) {
	files, err := collectSQL(filepath.Join(t.TempDir(), "absent"), ".up.sql")
	if err != nil {
		t.Fatalf("missing dir must not error: %v", err)
	}
	if files != nil {
		t.Fatalf("files = %v", files)
	}
}
