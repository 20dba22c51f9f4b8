package db

import (
	"context"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations_SortedByVersion(t *testing.T) {
	src := fstest.MapFS{
		"010_suggestions.sql": {Data: []byte("SELECT 10;")},
		"002_inventory.sql":   {Data: []byte("SELECT 2;")},
		"001_accounts.sql":    {Data: []byte("SELECT 1;")},
		"README.md":           {Data: []byte("docs")},
		"seed.sql":            {Data: []byte("SELECT 0;")},
		"abc_notnumeric.sql":  {Data: []byte("SELECT -1;")},
	}

	migrations, err := NewMigratorFS(nil, src, "carehub").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	want := []int{1, 2, 10}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migration %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected SQL: %q", migrations[0].SQL)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	src := fstest.MapFS{
		"001_accounts.sql": {Data: []byte("SELECT 1;")},
		"001_members.sql":  {Data: []byte("SELECT 1;")},
	}
	if _, err := NewMigratorFS(nil, src, "carehub").LoadMigrations(); err == nil {
		t.Error("expected error for duplicate migration versions")
	}
}

func TestLoadMigrations_RepositoryFiles(t *testing.T) {
	migrations, err := NewMigrator(nil, "../../../migrations", "carehub").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected the repository migrations to load")
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			t.Errorf("migrations out of order at %s", migrations[i].Name)
		}
	}
}

func TestMigrator_InvalidSchema(t *testing.T) {
	m := NewMigratorFS(nil, fstest.MapFS{}, "bad-schema;")
	if _, err := m.Up(context.Background()); err == nil {
		t.Error("expected error for invalid schema name")
	}
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil {
		t.Fatal("expected error when no connection in context")
	}
	if err.Error() != "no database connection in context" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}

func TestRunInTx_NoConnection(t *testing.T) {
	called := false
	err := RunInTx(context.Background(), nil, func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Error("expected error without pool or connection")
	}
	if called {
		t.Error("fn must not run without a transaction")
	}
}

func TestConnFromContext_Empty(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Error("expected nil connection")
	}
}

func TestNewPool_InvalidSchema(t *testing.T) {
	_, err := NewPool(context.Background(), "postgres://u:p@localhost:5432/db", "drop table;", 2, 1)
	if err == nil {
		t.Error("expected error for invalid schema")
	}
}
