package symbol

import (
	"errors"
	"testing"
)

func TestNormalize_Valid(t *testing.T) {
	tests := map[string]string{
		"EURUSD":   "EURUSD",
		"eurusd":   "EURUSD",
		" btcusd ": "BTCUSD",
		"Gbpusd":   "GBPUSD",
		"SPX500":   "SPX500",
	}
	for raw, want := range tests {
		got, err := Normalize(raw)
		if err != nil {
			t.Errorf("Normalize(%q): unexpected error: %v", raw, err)
			continue
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestNormalize_Empty(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t"} {
		_, err := Normalize(raw)
		if !errors.Is(err, ErrEmptySymbol) {
			t.Errorf("Normalize(%q): expected ErrEmptySymbol, got %v", raw, err)
		}
	}
}

func TestNormalize_InvalidFormat(t *testing.T) {
	tests := []string{
		"EU",              // too short
		"EURUSDGBPUSDXYZ", // too long
		"EUR/USD",
		"EUR USD",
		"EUR-USD",
	}
	for _, raw := range tests {
		_, err := Normalize(raw)
		if !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("Normalize(%q): expected ErrInvalidSymbol, got %v", raw, err)
		}
	}
}
