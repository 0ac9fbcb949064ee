package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts
}

func TestMappingsSkipsDisabled(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "source_kind", "source_entity", "source_field", "local_table", "local_field", "is_key_field", "local_type", "enabled"}).
		AddRow(int64(1), "billing", "customer", "id", "customers", "chargebee_id", true, nil, true).
		AddRow(int64(2), "billing", "customer", "company", "customers", "name", false, "text", true).
		AddRow(int64(3), "billing", "invoice", "id", "invoices", "external_id", true, nil, false)
	mock.ExpectQuery("SELECT .* FROM .*cssync_field_mappings").WillReturnRows(rows)

	r := &Repo{DB: db, Driver: "mysql"}
	ms, err := r.Mappings(context.Background(), KindBilling)
	if err != nil {
		t.Fatalf("Mappings: %v", err)
	}
	if len(ms) != 2 {
		t.Fatalf("expected 2 enabled mappings, got %d", len(ms))
	}
	if ms[1].LocalType != "text" || ms[0].LocalType != "" {
		t.Fatalf("unexpected local types: %+v", ms)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConfigDecodesColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	stats := `{"entities":{"customer":{"total":3,"new":1,"updated":2,"skipped":0,"errors":0}},"durationSeconds":1.5}`
	rows := sqlmock.NewRows(configColumns).
		AddRow(int64(7), "billing", "active", 6.0, "2024-05-01 10:00:00", []byte(stats), []byte("enc"), []byte(`{"site":"acme"}`))
	mock.ExpectQuery("SELECT .* FROM .*cssync_source_configs").WillReturnRows(rows)

	r := &Repo{DB: db, Driver: "mysql"}
	cfg, err := r.Config(context.Background(), KindBilling)
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg == nil || !cfg.Active() {
		t.Fatalf("expected active config, got %+v", cfg)
	}
	if cfg.SyncFrequency == nil || *cfg.SyncFrequency != 6 {
		t.Fatalf("frequency = %v", cfg.SyncFrequency)
	}
	want := mustTime(t, "2024-05-01T10:00:00Z")
	if cfg.LastSyncedAt == nil || !cfg.LastSyncedAt.Equal(want) {
		t.Fatalf("last synced = %v", cfg.LastSyncedAt)
	}
	if cfg.LastSyncStats == nil || cfg.LastSyncStats.Entity("customer").Updated != 2 {
		t.Fatalf("stats = %+v", cfg.LastSyncStats)
	}
	var settings map[string]string
	if err := json.Unmarshal(cfg.Settings, &settings); err != nil || settings["site"] != "acme" {
		t.Fatalf("settings = %s (%v)", cfg.Settings, err)
	}
}

func TestSaveRunResultTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	at := mustTime(t, "2024-05-01T12:00:00Z")
	stats := NewRunStats(at.Add(-time.Minute))
	stats.Entity("company").New = 3
	stats.Entity("company").Updated = 1
	stats.Finish(at)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE cssync_source_configs SET last_synced_at=\\$1, last_sync_stats=\\$2, updated_at=\\$3 WHERE kind=\\$4").
		WithArgs(at, sqlmock.AnyArg(), at, "analytical").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO cssync_sync_runs").
		WithArgs("analytical", at.Add(-time.Minute), at, "success", 4, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	r := &Repo{DB: db, Driver: "postgres"}
	if err := r.SaveRunResult(context.Background(), KindAnalytical, at, *stats); err != nil {
		t.Fatalf("SaveRunResult: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveRunResultRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE cssync_source_configs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO cssync_sync_runs").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	r := &Repo{DB: db, Driver: "mysql"}
	err = r.SaveRunResult(context.Background(), KindBilling, time.Now(), *NewRunStats(time.Now()))
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveRunResultMissingConfig(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE cssync_source_configs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	r := &Repo{DB: db, Driver: "mysql"}
	if err := r.SaveRunResult(context.Background(), KindBilling, time.Now(), *NewRunStats(time.Now())); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestReplaceMappingsRejectsForeignKind(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	r := &Repo{DB: db, Driver: "mysql"}
	ms := []FieldMapping{{SourceKind: KindAnalytical, SourceEntity: "company", SourceField: "id", LocalTable: "companies", LocalField: "external_id", IsKeyField: true}}
	if err := r.ReplaceMappings(context.Background(), KindBilling, ms); err == nil {
		t.Fatal("expected error")
	}
}

func TestReplaceMappings(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cssync_field_mappings WHERE source_kind=\\?").
		WithArgs("analytical").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO cssync_field_mappings").
		WithArgs("analytical", "company", "id", "companies", "external_id", true, nil, true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	r := &Repo{DB: db, Driver: "mysql"}
	ms := []FieldMapping{{SourceEntity: "company", SourceField: "id", LocalTable: "companies", LocalField: "external_id", IsKeyField: true, Enabled: true}}
	if err := r.ReplaceMappings(context.Background(), KindAnalytical, ms); err != nil {
		t.Fatalf("ReplaceMappings: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestParseSQLTime(t *testing.T) {
	for _, s := range []string{"2024-01-02 03:04:05", "2024-01-02T03:04:05Z", "2024-01-02 03:04:05.123456+00:00"} {
		if _, err := parseSQLTime(s); err != nil {
			t.Fatalf("parseSQLTime(%q): %v", s, err)
		}
	}
}

func TestCountMappings(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery("SELECT .* FROM .*cssync_field_mappings.*GROUP BY").
		WillReturnRows(sqlmock.NewRows([]string{"source_kind", "cnt"}).AddRow("billing", 4).AddRow("analytical", 2))

	r := &Repo{DB: db, Driver: "mysql"}
	got, err := r.CountMappings(context.Background())
	if err != nil {
		t.Fatalf("CountMappings: %v", err)
	}
	if got["billing"] != 4 || got["analytical"] != 2 {
		t.Fatalf("counts = %v", got)
	}
}
