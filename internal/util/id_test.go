package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefixAndUniqueness(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID("sub")
		if !strings.HasPrefix(id, "sub_") {
			t.Fatalf("expected prefix, got %q", id)
		}
		if len(id) != len("sub_")+32 {
			t.Fatalf("unexpected id length %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
	if id := NewID(""); strings.Contains(id, "_") || len(id) != 32 {
		t.Fatalf("unexpected bare id %q", id)
	}
}
