package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEntity_Supersedes(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name   string
		a, b   Entity
		expect bool
	}{
		{
			name:   "higher version wins",
			a:      Entity{Version: 3, LastModified: base},
			b:      Entity{Version: 2, LastModified: base.Add(time.Hour)},
			expect: true,
		},
		{
			name:   "lower version loses",
			a:      Entity{Version: 1, LastModified: base.Add(time.Hour)},
			b:      Entity{Version: 2, LastModified: base},
			expect: false,
		},
		{
			name:   "equal version later time wins",
			a:      Entity{Version: 2, LastModified: base.Add(time.Second)},
			b:      Entity{Version: 2, LastModified: base},
			expect: true,
		},
		{
			name:   "equal version earlier time loses",
			a:      Entity{Version: 2, LastModified: base},
			b:      Entity{Version: 2, LastModified: base.Add(time.Second)},
			expect: false,
		},
		{
			name:   "full tie broken by source app",
			a:      Entity{Version: 2, LastModified: base, SourceApp: "b"},
			b:      Entity{Version: 2, LastModified: base, SourceApp: "a"},
			expect: true,
		},
		{
			name:   "identical is not newer",
			a:      Entity{Version: 2, LastModified: base, SourceApp: "a"},
			b:      Entity{Version: 2, LastModified: base, SourceApp: "a"},
			expect: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Supersedes(tt.b); got != tt.expect {
				t.Errorf("Supersedes() = %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestEntity_SameRevision(t *testing.T) {
	now := time.Now().UTC()
	a := Entity{ID: "x", Version: 1, LastModified: now, SourceApp: "app"}
	b := a
	b.Payload = json.RawMessage(`{"other":true}`)

	if !a.SameRevision(b) {
		t.Error("expected same revision regardless of payload")
	}

	b.Version = 2
	if a.SameRevision(b) {
		t.Error("expected different revision after version change")
	}
}

func TestParseDomain(t *testing.T) {
	for _, d := range AllDomains() {
		got, err := ParseDomain(string(d))
		if err != nil {
			t.Fatalf("ParseDomain(%q) error: %v", d, err)
		}
		if got != d {
			t.Errorf("ParseDomain(%q) = %q", d, got)
		}
	}

	if _, err := ParseDomain("weather"); err == nil {
		t.Error("expected error for unknown domain")
	}
}

func TestOperationFor(t *testing.T) {
	if got := OperationFor(Entity{}); got != OperationUpsert {
		t.Errorf("live entity: got %q, want %q", got, OperationUpsert)
	}
	if got := OperationFor(Entity{Deleted: true}); got != OperationDelete {
		t.Errorf("tombstone: got %q, want %q", got, OperationDelete)
	}
}
