package registry

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleMappings() []FieldMapping {
	return []FieldMapping{
		{SourceKind: KindBilling, SourceEntity: "subscription", SourceField: "customer_id", LocalTable: "customers", LocalField: "chargebee_id", IsKeyField: true, Enabled: true},
		{SourceKind: KindBilling, SourceEntity: "customer", SourceField: "id", LocalTable: "customers", LocalField: "chargebee_id", IsKeyField: true, Enabled: true},
		{SourceKind: KindBilling, SourceEntity: "customer", SourceField: "company", LocalTable: "customers", LocalField: "name", Enabled: true},
		{SourceKind: KindBilling, SourceEntity: "invoice", SourceField: "id", LocalTable: "invoices", LocalField: "external_id", IsKeyField: true, Enabled: false},
	}
}

func TestGrouping(t *testing.T) {
	ms := sampleMappings()
	if diff := cmp.Diff([]string{"customer", "invoice", "subscription"}, EntityTypes(ms)); diff != "" {
		t.Fatalf("entities mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"customers", "invoices"}, Tables(ms)); diff != "" {
		t.Fatalf("tables mismatch (-want +got):\n%s", diff)
	}
	byEntity := GroupByEntity(ms)
	if len(byEntity["customer"]) != 2 {
		t.Fatalf("customer mappings = %d", len(byEntity["customer"]))
	}
	if got := len(KeyFields(byEntity["customer"])); got != 1 {
		t.Fatalf("key fields = %d", got)
	}
	if got := len(EnabledOnly(ms)); got != 3 {
		t.Fatalf("enabled = %d", got)
	}
}

func TestValidateDuplicateColumn(t *testing.T) {
	ms := sampleMappings()
	ms = append(ms, FieldMapping{SourceKind: KindBilling, SourceEntity: "customer", SourceField: "first_name", LocalTable: "customers", LocalField: "name"})
	if err := Validate(ms); err == nil {
		t.Fatal("expected duplicate column error")
	}
}

func TestValidateKeyDesignation(t *testing.T) {
	ms := []FieldMapping{
		{SourceKind: KindAnalytical, SourceEntity: "company", SourceField: "id", LocalTable: "companies", LocalField: "external_id", IsKeyField: true},
		{SourceKind: KindAnalytical, SourceEntity: "account", SourceField: "company_id", LocalTable: "companies", LocalField: "external_id"},
	}
	if err := Validate(ms); err == nil {
		t.Fatal("expected key designation error")
	}
}

func TestValidateUnknownKind(t *testing.T) {
	ms := []FieldMapping{{SourceKind: "crm", SourceEntity: "a", SourceField: "b", LocalTable: "c", LocalField: "d"}}
	if err := Validate(ms); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestValidateOK(t *testing.T) {
	if err := Validate(sampleMappings()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestRunStatsTotals(t *testing.T) {
	s := NewRunStats(mustTime(t, "2024-05-01T10:00:00Z"))
	s.Entity("customer").New = 2
	s.Entity("customer").Total = 3
	s.Entity("invoice").Updated = 4
	s.Finish(mustTime(t, "2024-05-01T10:00:30Z"))
	tot := s.Totals()
	if tot.New != 2 || tot.Updated != 4 || tot.Total != 3 {
		t.Fatalf("unexpected totals %+v", tot)
	}
	if s.DurationSeconds != 30 {
		t.Fatalf("duration = %v", s.DurationSeconds)
	}
	if s.RunStatus() != RunSuccess {
		t.Fatalf("status = %s", s.RunStatus())
	}
	s.Entity("invoice").Errors = 1
	if s.RunStatus() != RunPartial {
		t.Fatalf("status = %s", s.RunStatus())
	}
}
