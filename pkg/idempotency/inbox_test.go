package idempotency

import "testing"

func TestRunKeyDeterministic(t *testing.T) {
	a := RunKey("3F", "2025-01-10", []string{"P-001", "P-002", "P-003"})
	b := RunKey("3F", "2025-01-10", []string{"P-001", "P-002", "P-003"})
	if a != b {
		t.Fatalf("same inputs produced different keys: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256 key, got %q", a)
	}
}

func TestRunKeyIgnoresPatientOrder(t *testing.T) {
	a := RunKey("3F", "2025-01-10", []string{"P-003", "P-001", "P-002"})
	b := RunKey("3F", "2025-01-10", []string{"P-001", "P-002", "P-003"})
	if a != b {
		t.Fatalf("patient order changed key: %s vs %s", a, b)
	}
}

func TestRunKeyDistinguishesRuns(t *testing.T) {
	base := RunKey("3F", "2025-01-10", []string{"P-001"})
	if RunKey("4F", "2025-01-10", []string{"P-001"}) == base {
		t.Fatal("ward not reflected in key")
	}
	if RunKey("3F", "2025-01-11", []string{"P-001"}) == base {
		t.Fatal("as-of date not reflected in key")
	}
	if RunKey("3F", "2025-01-10", []string{"P-002"}) == base {
		t.Fatal("patient set not reflected in key")
	}
}

func TestRunKeyDoesNotMutateInput(t *testing.T) {
	keys := []string{"P-003", "P-001"}
	RunKey("3F", "2025-01-10", keys)
	if keys[0] != "P-003" || keys[1] != "P-001" {
		t.Fatalf("input slice mutated: %v", keys)
	}
}
