package sqlbundle

import (
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	stmts := SplitStatements(SQLite())
	if len(stmts) != 2 {
		t.Fatalf("expected 2 sqlite statements, got %d: %q", len(stmts), stmts)
	}
	for _, stmt := range stmts {
		if strings.HasPrefix(strings.TrimSpace(stmt), "--") {
			t.Fatalf("statement unexpectedly starts with comment: %q", stmt)
		}
		if !strings.HasSuffix(strings.TrimSpace(stmt), ";") {
			t.Fatalf("statement missing semicolon terminator: %q", stmt)
		}
	}
}

func TestSplitStatementsKeepsUnterminatedTail(t *testing.T) {
	stmts := SplitStatements("-- header\nCREATE TABLE a (x INT);\n\nSELECT 1")
	if len(stmts) != 2 || stmts[1] != "SELECT 1" {
		t.Fatalf("unexpected statements: %q", stmts)
	}
}

func TestBundlesCreateAspectTable(t *testing.T) {
	for name, ddl := range map[string]string{"sqlite": SQLite(), "postgres": Postgres()} {
		if !strings.Contains(ddl, "CREATE TABLE IF NOT EXISTS "+Table) {
			t.Fatalf("%s DDL does not create %s", name, Table)
		}
		if !strings.Contains(ddl, "PRIMARY KEY (urn, aspect, version)") {
			t.Fatalf("%s DDL missing version primary key", name)
		}
	}
}
