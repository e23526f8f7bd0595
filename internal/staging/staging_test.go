package staging

import (
	"context"
	"testing"
	"time"

	"github.com/gourab8389/migrata-new/internal/org"
)

func TestUniqueKeyJoinsWithDelimiter(t *testing.T) {
	rec := org.Record{"Name": "Acme", "BillingCity": "Pune", "Phone": nil}
	key := UniqueKey(rec, []string{"Name", "BillingCity", "Phone", "Missing"})
	if key != "Acme~Pune~~" {
		t.Fatalf("unexpected key: %q", key)
	}
}

func TestContentHashIsStable(t *testing.T) {
	a := ContentHash("Acme~Pune")
	b := ContentHash("Acme~Pune")
	if a != b {
		t.Fatal("hash must be deterministic")
	}
	if len(a) != 32 {
		t.Fatalf("expected 32-char hex digest, got %q", a)
	}
	if a == ContentHash("Acme~Mumbai") {
		t.Fatal("different keys must hash differently")
	}
}

func TestSanitizeStripsEnvelopeRecursively(t *testing.T) {
	rec := org.Record{
		"attributes": map[string]any{"type": "Account", "url": "/x"},
		"Name":       "Acme",
		"Owner": map[string]any{
			"attributes": map[string]any{"type": "User"},
			"Name":       "jdoe",
		},
		"Contacts": []any{
			map[string]any{"attributes": map[string]any{"type": "Contact"}, "LastName": "Doe"},
		},
	}
	clean := Sanitize(rec)
	if _, ok := clean["attributes"]; ok {
		t.Error("top-level attributes not stripped")
	}
	owner := clean["Owner"].(map[string]any)
	if _, ok := owner["attributes"]; ok {
		t.Error("nested attributes not stripped")
	}
	contact := clean["Contacts"].([]any)[0].(map[string]any)
	if _, ok := contact["attributes"]; ok {
		t.Error("attributes inside slices not stripped")
	}
	if _, ok := rec["attributes"]; !ok {
		t.Error("input record must not be modified")
	}
}

func TestMemoryStorePutReplacesBySourceID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	put := func(id, name string) {
		t.Helper()
		err := store.Put(ctx, []StagedRecord{{
			Object: "Account", SourceOrg: "src", SourceID: id,
			Fields: org.Record{"Name": name},
		}})
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	put("a1", "Acme")
	put("a2", "Globex")
	put("a1", "Acme Corp")

	records, err := store.List(ctx, "Account", "src")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after replace, got %d", len(records))
	}
	if records[0].Fields["Name"] != "Acme Corp" {
		t.Errorf("replacement lost: %v", records[0].Fields)
	}

	if err := store.Clear(ctx, "Account", "src"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	records, _ = store.List(ctx, "Account", "src")
	if len(records) != 0 {
		t.Errorf("expected empty scope after clear, got %d", len(records))
	}
}

func TestMemoryStoreLastSync(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ts, err := store.LastSync(ctx, "Account", "src")
	if err != nil {
		t.Fatalf("LastSync: %v", err)
	}
	if !ts.IsZero() {
		t.Fatal("expected zero time before first sync")
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := store.SetLastSync(ctx, "Account", "src", now); err != nil {
		t.Fatalf("SetLastSync: %v", err)
	}
	ts, _ = store.LastSync(ctx, "Account", "src")
	if !ts.Equal(now) {
		t.Errorf("expected %v, got %v", now, ts)
	}
}
