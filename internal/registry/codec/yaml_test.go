package codec

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/faciam-dev/cssync/internal/registry"
)

const sample = `version: "1"
source: billing
mappings:
  - entity: customer
    field: id
    table: customers
    column: chargebee_id
    key: true
  - entity: customer
    field: billing_address.city
    table: customers
    column: city
    enabled: false
  - entity: subscription
    field: mrr
    table: customers
    column: mrr
    type: decimal
`

func TestDecodeYAML(t *testing.T) {
	kind, ms, err := DecodeYAML([]byte(sample))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if kind != registry.KindBilling {
		t.Fatalf("kind = %s", kind)
	}
	want := []registry.FieldMapping{
		{SourceKind: registry.KindBilling, SourceEntity: "customer", SourceField: "id", LocalTable: "customers", LocalField: "chargebee_id", IsKeyField: true, Enabled: true},
		{SourceKind: registry.KindBilling, SourceEntity: "customer", SourceField: "billing_address.city", LocalTable: "customers", LocalField: "city", Enabled: false},
		{SourceKind: registry.KindBilling, SourceEntity: "subscription", SourceField: "mrr", LocalTable: "customers", LocalField: "mrr", LocalType: "decimal", Enabled: true},
	}
	if diff := cmp.Diff(want, ms); diff != "" {
		t.Fatalf("mappings mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip(t *testing.T) {
	_, ms, err := DecodeYAML([]byte(sample))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b, err := EncodeYAML(registry.KindBilling, ms)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, got, err := DecodeYAML(b)
	if err != nil {
		t.Fatalf("decode again: %v", err)
	}
	if diff := cmp.Diff(ms, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeYAMLUnknownSource(t *testing.T) {
	if _, _, err := DecodeYAML([]byte("source: crm\nmappings: []\n")); err == nil {
		t.Fatal("expected error for unknown source")
	}
}
