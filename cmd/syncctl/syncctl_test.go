package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/faciam-dev/cssync/pkg/crypto"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestBillingRoundTrip(t *testing.T) {
	t.Setenv(crypto.KeyEnv, "0123456789abcdef0123456789abcdef")
	t.Setenv("CSSYNC_DSN", "")
	t.Setenv("CSSYNC_EVENTS_CONFIG", "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, _, _ := r.BasicAuth(); user != "live_key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"list":[{"customer":{"id":"cb_1","first_name":"Ada"}},{"customer":{"id":"cb_2","first_name":"Grace"}}]}`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cssync.db")
	dsn := "sqlite://" + dbPath

	if out, err := execute(t, "--db", dsn, "db", "migrate"); err != nil {
		t.Fatalf("migrate: %v\n%s", err, out)
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY AUTOINCREMENT, chargebee_id TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}

	mappings := writeFile(t, dir, "billing.yaml", `version: "1"
source: billing
mappings:
  - entity: customer
    field: id
    table: customers
    column: chargebee_id
    key: true
  - entity: customer
    field: first_name
    table: customers
    column: name
`)
	if out, err := execute(t, "--db", dsn, "mappings", "apply", mappings); err != nil {
		t.Fatalf("apply: %v\n%s", err, out)
	}

	settings := writeFile(t, dir, "settings.json", fmt.Sprintf(`{"base_url":%q,"requests_per_second":100}`, srv.URL))
	creds := writeFile(t, dir, "creds.json", `{"api_key":"live_key"}`)
	if out, err := execute(t, "--db", dsn, "sources", "set", "billing", "--status", "active", "--frequency", "24", "--settings", settings, "--credentials", creds); err != nil {
		t.Fatalf("set: %v\n%s", err, out)
	}
	var stored []byte
	if err := db.QueryRow(`SELECT credentials FROM cssync_source_configs WHERE kind='billing'`).Scan(&stored); err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if bytes.Contains(stored, []byte("live_key")) {
		t.Fatal("credentials stored in plain text")
	}

	out, err := execute(t, "--db", dsn, "run", "billing")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.HasPrefix(out, "success:") {
		t.Fatalf("run output:\n%s", out)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM customers WHERE name IS NOT NULL AND updated_from_billing_at IS NOT NULL`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("synced customers = %d", n)
	}

	out, err = execute(t, "--db", dsn, "--output", "json", "runs", "billing")
	if err != nil || !strings.Contains(out, `"status": "success"`) {
		t.Fatalf("runs: %v\n%s", err, out)
	}
	out, err = execute(t, "--db", dsn, "mappings", "export", "billing")
	if err != nil || !strings.Contains(out, "column: chargebee_id") {
		t.Fatalf("export: %v\n%s", err, out)
	}
	out, err = execute(t, "--db", dsn, "sources", "list")
	if err != nil || !strings.Contains(strings.ToLower(out), "billing") {
		t.Fatalf("list: %v\n%s", err, out)
	}
}

func TestMappingsApplyDryRun(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "m.yaml", "version: \"1\"\nsource: analytical\nmappings:\n  - entity: company\n    field: id\n    table: companies\n    column: external_id\n    key: true\n")
	out, err := execute(t, "mappings", "apply", "--dry-run", p)
	if err != nil || !strings.Contains(out, "1 mappings over 1 tables") {
		t.Fatalf("dry run: %v\n%s", err, out)
	}
}

func TestRunUnknownSource(t *testing.T) {
	if _, err := execute(t, "--db", "sqlite://"+filepath.Join(t.TempDir(), "x.db"), "run", "crm"); err == nil {
		t.Fatal("expected unknown source error")
	}
}
