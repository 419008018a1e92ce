package supervisor

import (
	"testing"
	"time"
)

func TestPolicyCooldown(t *testing.T) {
	p := testPolicy()
	tests := []struct {
		flaps int
		want  time.Duration
	}{
		{0, 5 * time.Second},
		{1, 15 * time.Second},
		{2, 30 * time.Second},
		{3, 60 * time.Second},
		{4, 2 * time.Minute},
		{12, 2 * time.Minute},
	}
	for _, tt := range tests {
		if got := p.Cooldown(tt.flaps); got != tt.want {
			t.Fatalf("Cooldown(%d) = %s, want %s", tt.flaps, got, tt.want)
		}
	}
}
