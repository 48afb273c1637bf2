package migrations

import (
	"strings"
	"testing"
)

func TestLoad_EmbeddedOrder(t *testing.T) {
	ch, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		t.Fatalf("load clickhouse: %v", err)
	}
	if len(ch) != 2 || ch[0].name != "001_bars.sql" || ch[1].name != "002_factor_values.sql" {
		t.Fatalf("unexpected clickhouse migrations: %+v", ch)
	}

	pg, err := load(PostgresFS, "postgres")
	if err != nil {
		t.Fatalf("load postgres: %v", err)
	}
	if len(pg) != 2 || !strings.Contains(pg[0].sql, "factor_definitions") {
		t.Fatalf("unexpected postgres migrations: %+v", pg)
	}
}

func TestSplitStatements(t *testing.T) {
	input := `-- header
CREATE TABLE a (x String);

-- second
CREATE TABLE b (y String DEFAULT 'it''s');
`
	stmts, err := splitStatements(input)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != "CREATE TABLE a (x String)" {
		t.Errorf("unexpected first statement %q", stmts[0])
	}

	if _, err := splitStatements("SELECT 'a;b';"); err != errSemicolonInString {
		t.Errorf("expected errSemicolonInString, got %v", err)
	}
}

func TestSplitStatements_EmbeddedFiles(t *testing.T) {
	files, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, m := range files {
		stmts, err := splitStatements(m.sql)
		if err != nil {
			t.Fatalf("%s: %v", m.name, err)
		}
		if len(stmts) != 1 || !strings.HasPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS") {
			t.Errorf("%s: unexpected statements %q", m.name, stmts)
		}
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/factors")
	if err != nil || db != "factors" {
		t.Errorf("expected factors, got %q (%v)", db, err)
	}
	if _, err := databaseFromDSN("clickhouse://localhost:9000"); err != errMissingDatabase {
		t.Errorf("expected errMissingDatabase, got %v", err)
	}
}
