package ports

import (
	"fmt"
	"testing"
)

func TestResolvePort_Deterministic(t *testing.T) {
	// Given: The same identity resolved twice
	first := ResolvePort("com.example.host", 47100)
	second := ResolvePort("com.example.host", 47100)

	// Then: Both resolutions agree
	if first != second {
		t.Errorf("ResolvePort not deterministic: %d != %d", first, second)
	}
}

func TestResolvePort_StaysInWindow(t *testing.T) {
	base := 47200
	for i := 0; i < 500; i++ {
		appID := fmt.Sprintf("com.example.connector%d", i)
		port := ResolvePort(appID, base)
		if !InWindow(base, port) {
			t.Fatalf("ResolvePort(%q) = %d, outside window [%d,%d)", appID, port, base, base+WindowSize)
		}
	}
}

func TestResolvePort_DomainsShareSlot(t *testing.T) {
	// Given: One app resolved against two different domain bases
	a := ResolvePort("com.example.host", 47100)
	b := ResolvePort("com.example.host", 47300)

	// Then: The slot offset is identical
	if a-47100 != b-47300 {
		t.Errorf("slot offsets differ: %d vs %d", a-47100, b-47300)
	}
}

func TestProbe_WrapsAroundWindow(t *testing.T) {
	base := 47100
	start := base + WindowSize - 2

	tests := []struct {
		attempt int
		want    int
	}{
		{0, base + WindowSize - 2},
		{1, base + WindowSize - 1},
		{2, base},
		{3, base + 1},
		{WindowSize, base + WindowSize - 2},
	}

	for _, tt := range tests {
		if got := Probe(base, start, tt.attempt); got != tt.want {
			t.Errorf("Probe(attempt=%d) = %d, want %d", tt.attempt, got, tt.want)
		}
	}
}

func TestProbe_VisitsEverySlotOnce(t *testing.T) {
	base := 47500
	start := ResolvePort("com.example.rss", base)

	seen := make(map[int]bool)
	for i := 0; i < WindowSize; i++ {
		p := Probe(base, start, i)
		if seen[p] {
			t.Fatalf("port %d probed twice", p)
		}
		seen[p] = true
	}
	if len(seen) != WindowSize {
		t.Errorf("probed %d slots, want %d", len(seen), WindowSize)
	}
}

func TestValidateBase(t *testing.T) {
	if err := ValidateBase(47100); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateBase(80); err == nil {
		t.Error("expected error for privileged base")
	}
	if err := ValidateBase(65500); err == nil {
		t.Error("expected error for base without room")
	}
}

func TestOverlaps(t *testing.T) {
	if !Overlaps(47100, 47150) {
		t.Error("47100 and 47150 should overlap")
	}
	if Overlaps(47100, 47200) {
		t.Error("47100 and 47200 should not overlap")
	}
	if !Overlaps(47250, 47200) {
		t.Error("overlap must be symmetric")
	}
}
