package payments

import (
	"errors"
	"math"
	"testing"
)

func TestToMinorUnits(t *testing.T) {
	cases := []struct {
		amount int64
		code   string
		want   int64
	}{
		{amount: 85000, code: "PHP", want: 8500000},
		{amount: 168000, code: "php", want: 16800000},
		{amount: 12000, code: "JPY", want: 12000},
		{amount: 0, code: "USD", want: 0},
	}
	for _, tc := range cases {
		got, err := ToMinorUnits(tc.amount, tc.code)
		if err != nil || got != tc.want {
			t.Fatalf("%d %s: got %d err=%v, want %d", tc.amount, tc.code, got, err, tc.want)
		}
	}
}

func TestToMinorUnitsRejects(t *testing.T) {
	if _, err := ToMinorUnits(-1, "PHP"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
	if _, err := ToMinorUnits(1, "XXQ"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for unknown currency, got %v", err)
	}
	if _, err := ToMinorUnits(math.MaxInt64, "PHP"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected overflow error, got %v", err)
	}
}
