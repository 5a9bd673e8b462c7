package safe

import (
	"math"
	"testing"
)

func TestSafeUint64ToInt64(t *testing.T) {
	tests := []struct {
		name            string
		input           uint64
		expectedValue   int64
		expectedClamped bool
	}{
		{
			name:            "zero value",
			input:           0,
			expectedValue:   0,
			expectedClamped: false,
		},
		{
			name:            "max int64 value",
			input:           math.MaxInt64,
			expectedValue:   math.MaxInt64,
			expectedClamped: false,
		},
		{
			name:            "max uint64 value (overflow)",
			input:           math.MaxUint64,
			expectedValue:   math.MaxInt64,
			expectedClamped: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, clamped := Uint64ToInt64(tt.input)
			if value != tt.expectedValue {
				t.Errorf("Uint64ToInt64(%d) value = %d, expected %d", tt.input, value, tt.expectedValue)
			}
			if clamped != tt.expectedClamped {
				t.Errorf("Uint64ToInt64(%d) clamped = %v, expected %v", tt.input, clamped, tt.expectedClamped)
			}
		})
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		name  string
		off   uint64
		n     uint64
		limit uint64
		want  bool
	}{
		{name: "inside", off: 4, n: 4, limit: 16, want: true},
		{name: "ends at limit", off: 12, n: 4, limit: 16, want: true},
		{name: "crosses limit", off: 13, n: 4, limit: 16, want: false},
		{name: "empty span at limit", off: 16, n: 0, limit: 16, want: true},
		{name: "empty span past limit", off: 17, n: 0, limit: 16, want: false},
		{name: "wraps around", off: math.MaxUint64 - 1, n: 4, limit: math.MaxUint64, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Within(tt.off, tt.n, tt.limit); got != tt.want {
				t.Errorf("Within(%d, %d, %d) = %v, want %v", tt.off, tt.n, tt.limit, got, tt.want)
			}
		})
	}
}

func TestMulUint64(t *testing.T) {
	if p, overflow := MulUint64(16, 24); p != 384 || overflow {
		t.Errorf("MulUint64(16, 24) = %d, %v", p, overflow)
	}
	if _, overflow := MulUint64(math.MaxUint64, 2); !overflow {
		t.Error("MulUint64(MaxUint64, 2) should overflow")
	}
	if p, overflow := MulUint64(0, math.MaxUint64); p != 0 || overflow {
		t.Errorf("MulUint64(0, MaxUint64) = %d, %v", p, overflow)
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct {
		in   uint64
		want uint64
	}{
		{0, 0},
		{1, 4096},
		{4096, 4096},
		{4097, 8192},
	}
	for _, tt := range tests {
		got, overflow := AlignUp(tt.in, 4096)
		if overflow {
			t.Fatalf("AlignUp(%d) overflowed", tt.in)
		}
		if got != tt.want {
			t.Errorf("AlignUp(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if _, overflow := AlignUp(math.MaxUint64, 4096); !overflow {
		t.Error("AlignUp(MaxUint64) should overflow")
	}
}
