// Package numeric converts the hex-encoded quantities returned by JSON-RPC
// endpoints into native values.
package numeric

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// EncodingError is returned when a value is not valid base-16.
type EncodingError struct {
	Value string
	Err   error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed hex value %q: %v", e.Value, e.Err)
	}
	return fmt.Sprintf("malformed hex value %q", e.Value)
}

func (e *EncodingError) Unwrap() error { return e.Err }

var maxInt64 = big.NewInt(math.MaxInt64)

// WithHexPrefix adds the 0x marker if it is missing.
func WithHexPrefix(s string) string {
	if HasHexPrefix(s) {
		return s
	}
	return "0x" + s
}

// StripHexPrefix removes a leading 0x or 0X marker.
func StripHexPrefix(s string) string {
	if HasHexPrefix(s) {
		return s[2:]
	}
	return s
}

// HasHexPrefix reports whether s starts with 0x or 0X.
func HasHexPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func parse(s string) (*big.Int, string, error) {
	digits := StripHexPrefix(strings.TrimSpace(s))
	if digits == "" {
		return nil, digits, &EncodingError{Value: s}
	}
	n, ok := new(big.Int).SetString(digits, 16)
	if !ok || n.Sign() < 0 {
		return nil, digits, &EncodingError{Value: s}
	}
	return n, digits, nil
}

// HexToDecimal parses a base-16 string. The result is an int64 when the
// value fits, otherwise its exact decimal digit string.
func HexToDecimal(s string) (any, error) {
	n, _, err := parse(s)
	if err != nil {
		return nil, err
	}
	return BigToDecimal(n), nil
}

// BigToDecimal renders n as int64 when it fits, else as decimal digits.
func BigToDecimal(n *big.Int) any {
	if n.IsInt64() && n.Cmp(maxInt64) <= 0 {
		return n.Int64()
	}
	return n.String()
}

// HexToUint64 parses a base-16 quantity that must fit in 64 bits.
func HexToUint64(s string) (uint64, error) {
	n, _, err := parse(s)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, &EncodingError{Value: s, Err: errors.New("exceeds 64 bits")}
	}
	return n.Uint64(), nil
}

// HexToHex re-renders a base-16 string in lowercase without prefix.
// Identifiers keep their width: 32-byte words (64 digits) and addresses
// (40 digits) are left-padded back to the input width.
func HexToHex(s string) (string, error) {
	n, digits, err := parse(s)
	if err != nil {
		return "", err
	}
	out := n.Text(16)
	switch len(digits) {
	case 40, 64:
		if len(out) < len(digits) {
			out = strings.Repeat("0", len(digits)-len(out)) + out
		}
	}
	return out, nil
}

// Uint64ToHex renders a height the way JSON-RPC quantities are encoded.
func Uint64ToHex(n uint64) string {
	return fmt.Sprintf("0x%x", n)
}
