// Package symbol handles instrument symbol normalization and validation.
// Symbols are stored and quoted in their normalized (upper-case) form.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches normalized symbols: 3–12 upper-case letters or
// digits. Examples: EURUSD, GBPUSD, BTCUSD.
var symbolRegex = regexp.MustCompile(`^[A-Z0-9]{3,12}$`)

var (
	ErrEmptySymbol   = errors.New("symbol: symbol is required")
	ErrInvalidSymbol = errors.New("symbol: invalid symbol format")
)

// Normalize trims whitespace and upper-cases a raw symbol, then
// validates the result. Returns the normalized symbol or an error.
func Normalize(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", ErrEmptySymbol
	}
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q (expected 3-12 letters or digits)", ErrInvalidSymbol, raw)
	}
	return s, nil
}
