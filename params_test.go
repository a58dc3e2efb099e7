package bloomvault

import "testing"

func TestComputeParams(t *testing.T) {
	p, err := ComputeParams(10_000, 0.01)
	if err != nil {
		t.Fatalf("ComputeParams: %v", err)
	}
	if p.M < 90_000 || p.M > 100_000 {
		t.Errorf("m outside expected range: %d", p.M)
	}
	if p.K < 5 || p.K > 9 {
		t.Errorf("k outside expected range: %d", p.K)
	}
}

func TestComputeParamsScalesLinearly(t *testing.T) {
	p1, err := ComputeParams(1_000, 0.01)
	if err != nil {
		t.Fatalf("ComputeParams: %v", err)
	}
	p2, err := ComputeParams(10_000, 0.01)
	if err != nil {
		t.Fatalf("ComputeParams: %v", err)
	}
	ratio := float64(p2.M) / float64(p1.M)
	if ratio < 9 || ratio > 11 {
		t.Errorf("m should scale ~linearly with n, got ratio %v", ratio)
	}
}

func TestComputeParamsInvalid(t *testing.T) {
	tests := []struct {
		name string
		n    uint64
		p    float64
	}{
		{"zero items", 0, 0.01},
		{"zero fpr", 1000, 0},
		{"fpr one", 1000, 1},
		{"negative fpr", 1000, -0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ComputeParams(tt.n, tt.p); err == nil {
				t.Fatalf("expected ErrInvalidParams, got nil")
			}
		})
	}
}

func TestComputeParamsMinimumK(t *testing.T) {
	// A single expected item at a loose FPR can legitimately derive k=1.
	p, err := ComputeParams(1, 0.5)
	if err != nil {
		t.Fatalf("ComputeParams: %v", err)
	}
	if p.K < 1 {
		t.Errorf("k must be >= 1, got %d", p.K)
	}
	if p.M < p.K {
		t.Errorf("m (%d) must be >= k (%d)", p.M, p.K)
	}
}
