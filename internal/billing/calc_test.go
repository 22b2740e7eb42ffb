package billing

import (
	"testing"
	"time"
)

func TestCalculateCharge_TieredPricing(t *testing.T) {
	rate := Rate{Rate1: 10, Rate2: 8}

	tests := []struct {
		name            string
		prev, curr      float64
		wantConsumption float64
		wantBasic       float64
	}{
		{"zero consumption charged as one unit", 100, 100, 0, 10},
		{"one unit", 100, 101, 1, 10},
		{"tier boundary", 100, 103, 3, 30},
		{"beyond tier one", 100, 105, 5, 46},
		{"negative difference floored", 105, 100, 0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumption, basic := CalculateCharge(tt.prev, tt.curr, rate)
			if consumption != tt.wantConsumption {
				t.Errorf("consumption = %v, want %v", consumption, tt.wantConsumption)
			}
			if basic != tt.wantBasic {
				t.Errorf("basic = %v, want %v", basic, tt.wantBasic)
			}
		})
	}
}

func TestCalculateCharge_Idempotent(t *testing.T) {
	rate := Rate{Rate1: 12.5, Rate2: 9.75}
	c1, b1 := CalculateCharge(40, 47, rate)
	c2, b2 := CalculateCharge(40, 47, rate)
	if c1 != c2 || b1 != b2 {
		t.Fatalf("recomputation diverged: (%v,%v) vs (%v,%v)", c1, b1, c2, b2)
	}
}

func TestDiscount(t *testing.T) {
	if got := Discount(1000, 10); got != 100 {
		t.Errorf("Discount(1000, 10) = %v, want 100", got)
	}
	if got := Discount(1000, 0); got != 0 {
		t.Errorf("Discount(1000, 0) = %v, want 0", got)
	}
	if got := Discount(33.33, 5); got != 1.67 {
		t.Errorf("Discount(33.33, 5) = %v, want 1.67", got)
	}
	// Pure function, no hidden state between calls.
	first := Discount(250, 15)
	second := Discount(250, 15)
	if first != second {
		t.Errorf("discount not idempotent: %v vs %v", first, second)
	}
}

func TestNextBilledMonth(t *testing.T) {
	now := time.Date(2024, 6, 14, 9, 0, 0, 0, time.UTC)

	latest := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := NextBilledMonth(&latest, now); !got.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("next month after 2024-03 = %v", got)
	}

	dec := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	if got := NextBilledMonth(&dec, now); !got.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("year rollover = %v", got)
	}

	if got := NextBilledMonth(nil, now); !got.Equal(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("no previous bill = %v", got)
	}
}

func TestNormalizeMonth(t *testing.T) {
	in := time.Date(2024, 5, 23, 16, 45, 12, 0, time.UTC)
	want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if got := NormalizeMonth(in); !got.Equal(want) {
		t.Errorf("NormalizeMonth = %v, want %v", got, want)
	}
}
