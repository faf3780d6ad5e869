package numeric

import (
	"math/big"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexToDecimal(t *testing.T) {
	v, err := HexToDecimal("1a")
	require.NoError(t, err)
	assert.Equal(t, int64(26), v)

	v, err = HexToDecimal("0x1a")
	require.NoError(t, err)
	assert.Equal(t, int64(26), v)

	// 80-bit value must not be truncated
	v, err = HexToDecimal(strings.Repeat("f", 20))
	require.NoError(t, err)
	assert.Equal(t, "1208925819614629174706175", v)

	// boundary: max int64 stays numeric, one above becomes a string
	v, err = HexToDecimal("7fffffffffffffff")
	require.NoError(t, err)
	assert.Equal(t, int64(9223372036854775807), v)

	v, err = HexToDecimal("8000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "9223372036854775808", v)
}

func TestHexToDecimal_RoundTrip(t *testing.T) {
	values := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(4096),
		new(big.Int).Lsh(big.NewInt(1), 100),
	}
	for _, n := range values {
		v, err := HexToDecimal(n.Text(16))
		require.NoError(t, err)
		switch x := v.(type) {
		case int64:
			assert.Equal(t, n.Int64(), x)
		case string:
			assert.Equal(t, n.String(), x)
		default:
			t.Fatalf("unexpected type %T", v)
		}
	}
}

func TestHexToDecimal_Malformed(t *testing.T) {
	for _, in := range []string{"", "0x", "xyz", "0x12g4"} {
		_, err := HexToDecimal(in)
		var encErr *EncodingError
		assert.True(t, errors.As(err, &encErr), "input %q", in)
	}
}

func TestHexToHex(t *testing.T) {
	out, err := HexToHex("0x00ff")
	require.NoError(t, err)
	assert.Equal(t, "ff", out)

	out, err = HexToHex("0xABCDEF")
	require.NoError(t, err)
	assert.Equal(t, "abcdef", out)

	// 32-byte word keeps its width
	word := "0x" + strings.Repeat("0", 60) + "beef"
	out, err = HexToHex(word)
	require.NoError(t, err)
	assert.Len(t, out, 64)
	assert.True(t, strings.HasSuffix(out, "beef"))

	// address keeps its width
	addr := "0x0000000000000000000000000000000000001234"
	out, err = HexToHex(addr)
	require.NoError(t, err)
	assert.Equal(t, StripHexPrefix(addr), out)

	_, err = HexToHex("0x")
	assert.Error(t, err)
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "0xab", WithHexPrefix("ab"))
	assert.Equal(t, "0xab", WithHexPrefix("0xab"))
	assert.Equal(t, "ab", StripHexPrefix("0xab"))
	assert.Equal(t, "ab", StripHexPrefix("0Xab"))
	assert.Equal(t, "ab", StripHexPrefix("ab"))
	assert.Equal(t, "0x64", Uint64ToHex(100))
}

func TestHexToUint64(t *testing.T) {
	h, err := HexToUint64("0x64")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), h)

	_, err = HexToUint64(strings.Repeat("f", 20))
	assert.Error(t, err)
}
