package destination

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY AUTOINCREMENT, external_id TEXT, email TEXT, name TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	return db
}

func rec(kv ...any) Record {
	r := NewRecord()
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := &SQLStore{DB: openSQLite(t), Driver: "sqlite3"}

	cols, err := s.Columns(ctx, "customers")
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	if len(cols) != 4 {
		t.Fatalf("columns = %v", cols)
	}

	found, err := s.FindByKeys(ctx, "customers", rec("external_id", "a1"))
	if err != nil || found {
		t.Fatalf("find before insert: %v %v", found, err)
	}
	if err := s.InsertRow(ctx, "customers", rec("external_id", "a1", "name", "Acme")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	found, err = s.FindByKeys(ctx, "customers", rec("external_id", "zz", "email", nil))
	if err != nil || found {
		t.Fatalf("find unrelated: %v %v", found, err)
	}
	found, err = s.FindByKeys(ctx, "customers", rec("email", "x@y", "external_id", "a1"))
	if err != nil || !found {
		t.Fatalf("find by any key: %v %v", found, err)
	}
	n, err := s.UpdateRowByKeys(ctx, "customers", rec("external_id", "a1"), rec("name", "Acme Renamed"))
	if err != nil || n != 1 {
		t.Fatalf("update: %d %v", n, err)
	}
	var name string
	if err := s.DB.QueryRow(`SELECT name FROM customers WHERE external_id = 'a1'`).Scan(&name); err != nil {
		t.Fatalf("select: %v", err)
	}
	if name != "Acme Renamed" {
		t.Fatalf("name = %q", name)
	}
}

func TestSQLiteAddColumn(t *testing.T) {
	ctx := context.Background()
	s := &SQLStore{DB: openSQLite(t), Driver: "sqlite3"}
	if err := s.AddColumn(ctx, "customers", "mrr", TypeDecimal); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddColumn(ctx, "customers", "mrr", TypeDecimal); err == nil {
		t.Fatal("expected duplicate column error")
	}
	cols, err := s.Columns(ctx, "customers")
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	if cols[len(cols)-1] != "mrr" {
		t.Fatalf("columns = %v", cols)
	}
}

func TestSQLiteMissingTable(t *testing.T) {
	s := &SQLStore{DB: openSQLite(t), Driver: "sqlite3"}
	if _, err := s.Columns(context.Background(), "nope"); !errors.Is(err, ErrNoTable) {
		t.Fatalf("expected ErrNoTable, got %v", err)
	}
}

func TestPostgresStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := &SQLStore{DB: db, Driver: "postgres"}

	mock.ExpectExec(`UPDATE "customers" SET "name" = \$1 WHERE \("external_id" = \$2 OR "email" = \$3\)`).
		WithArgs("Acme", "a1", "a@acme.test").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if _, err := s.UpdateRowByKeys(context.Background(), "customers", rec("external_id", "a1", "email", "a@acme.test"), rec("name", "Acme")); err != nil {
		t.Fatalf("update: %v", err)
	}

	mock.ExpectExec(`ALTER TABLE "customers" ADD COLUMN "mrr" NUMERIC\(18,2\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.AddColumn(context.Background(), "customers", "mrr", TypeDecimal); err != nil {
		t.Fatalf("add column: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMySQLQuotesIdentifiers(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := NewSQLStore(db, "mysql", "user:pass@tcp(localhost:3306)/crm")
	if s.Schema != "crm" {
		t.Fatalf("schema = %q", s.Schema)
	}
	mock.ExpectExec("INSERT INTO `weird``table` \\(`a`, `b`\\) VALUES \\(\\?, \\?\\)").
		WithArgs(1, "x").
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := s.InsertRow(context.Background(), "weird`table", rec("a", 1, "b", "x")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	mock.ExpectQuery("SELECT COLUMN_NAME FROM information_schema.columns WHERE table_schema = \\? AND table_name = \\?").
		WithArgs("crm", "customers").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id").AddRow("name"))
	cols, err := s.Columns(context.Background(), "customers")
	if err != nil || len(cols) != 2 {
		t.Fatalf("columns: %v %v", cols, err)
	}
}

func TestFindByKeysRequiresKeys(t *testing.T) {
	s := &SQLStore{Driver: "sqlite3"}
	if _, err := s.FindByKeys(context.Background(), "customers", NewRecord()); err == nil {
		t.Fatal("expected error")
	}
}
