package harden

import "testing"

func TestApplyDisablesCoreDumps(t *testing.T) {
	if err := Apply(); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	limit, err := CoreLimit()
	if err != nil {
		t.Fatalf("CoreLimit: %v", err)
	}
	if limit != 0 {
		t.Errorf("expected core limit 0, got %d", limit)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	for i := 0; i < 2; i++ {
		if err := Apply(); err != nil {
			t.Fatalf("Apply #%d: %v", i, err)
		}
	}
}
