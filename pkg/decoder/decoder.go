// Package decoder computes ABI selectors and encodes/decodes the fixed
// 32-byte words used by Ethereum contract calls and event logs.
package decoder

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/84hero/chain-scanner/pkg/numeric"
	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// WordSize is the width of one ABI slot in bytes.
const WordSize = 32

// UnsupportedTypeError is returned for ABI types the codec cannot handle.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported abi type %q", e.Type)
}

// DecodeRangeError is returned when a read would run past the data blob.
type DecodeRangeError struct {
	Offset int // byte offset of the read
	Length int // bytes requested
	Size   int // bytes available
}

func (e *DecodeRangeError) Error() string {
	return fmt.Sprintf("abi decode out of range: need %d bytes at offset %d, have %d", e.Length, e.Offset, e.Size)
}

// Param is one typed input or output of a contract function or event.
type Param struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Indexed bool   `json:"indexed,omitempty"`
}

// Types returns the type list of params, in order.
func Types(params []Param) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = p.Type
	}
	return out
}

// Selector is the Keccak-256 digest of a canonical signature.
type Selector [32]byte

// Topic returns the full digest, 0x-prefixed, as found in log topics.
func (s Selector) Topic() string { return hexutil.Encode(s[:]) }

// ID returns the 4-byte function selector, 0x-prefixed.
func (s Selector) ID() string { return hexutil.Encode(s[:4]) }

// Hash returns the digest as a go-ethereum hash.
func (s Selector) Hash() common.Hash { return common.Hash(s) }

// Codec encodes call arguments and decodes return and log data.
// The zero value is ready to use and holds no mutable state.
type Codec struct{}

// New returns a codec.
func New() *Codec {
	return &Codec{}
}

// Signature builds the canonical name(type1,type2,...) string.
func (c *Codec) Signature(name string, types []string) string {
	return name + "(" + strings.Join(types, ",") + ")"
}

// ComputeSelector hashes the canonical signature of name and types.
func (c *Codec) ComputeSelector(name string, types []string) Selector {
	return Selector(crypto.Keccak256Hash([]byte(c.Signature(name, types))))
}

func parseType(typ string) (abi.Type, error) {
	t, err := abi.NewType(typ, "", nil)
	if err != nil {
		return abi.Type{}, &UnsupportedTypeError{Type: typ}
	}
	return t, nil
}

// EncodeArgument encodes one static argument into a 64 hex character word.
// Integers accept decimal or 0x-prefixed hex input.
func (c *Codec) EncodeArgument(typ, value string) (string, error) {
	t, err := parseType(typ)
	if err != nil {
		return "", err
	}

	var word []byte
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(value) {
			return "", errors.Errorf("invalid address %q", value)
		}
		word = common.LeftPadBytes(common.HexToAddress(value).Bytes(), WordSize)
	case abi.UintTy, abi.IntTy:
		n, ok := new(big.Int).SetString(value, 0)
		if !ok {
			return "", errors.Errorf("invalid integer %q for %s", value, typ)
		}
		if t.T == abi.UintTy && (n.Sign() < 0 || n.BitLen() > t.Size) {
			return "", errors.Errorf("value %s overflows %s", value, typ)
		}
		if t.T == abi.IntTy && !fitsSigned(n, t.Size) {
			return "", errors.Errorf("value %s overflows %s", value, typ)
		}
		word = math.U256Bytes(n)
	case abi.BoolTy:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", errors.Wrapf(err, "invalid bool %q", value)
		}
		word = make([]byte, WordSize)
		if b {
			word[WordSize-1] = 1
		}
	case abi.FixedBytesTy:
		raw, err := hexutil.Decode(numeric.WithHexPrefix(value))
		if err != nil || len(raw) > t.Size {
			return "", errors.Errorf("invalid %s value %q", typ, value)
		}
		word = common.RightPadBytes(raw, WordSize)
	default:
		return "", &UnsupportedTypeError{Type: typ}
	}
	return hex.EncodeToString(word), nil
}

// EncodeCall builds eth_call data: 4-byte selector followed by one word per
// argument in declaration order.
func (c *Codec) EncodeCall(name string, types, values []string) (string, error) {
	if len(types) != len(values) {
		return "", errors.Errorf("%s: %d argument types but %d values", name, len(types), len(values))
	}
	var sb strings.Builder
	sb.WriteString(c.ComputeSelector(name, types).ID())
	for i, typ := range types {
		word, err := c.EncodeArgument(typ, values[i])
		if err != nil {
			return "", errors.Wrapf(err, "argument %d of %s", i, name)
		}
		sb.WriteString(word)
	}
	return sb.String(), nil
}

func readWord(raw []byte, offset int) ([]byte, error) {
	if offset < 0 || offset+WordSize > len(raw) {
		return nil, &DecodeRangeError{Offset: offset, Length: WordSize, Size: len(raw)}
	}
	return raw[offset : offset+WordSize], nil
}

// DecodeValue decodes the value of type typ found at word index wordOffset
// of the hex blob data.
func (c *Codec) DecodeValue(typ, data string, wordOffset int) (any, error) {
	t, err := parseType(typ)
	if err != nil {
		return nil, err
	}
	raw, err := hexutil.Decode(numeric.WithHexPrefix(data))
	if err != nil {
		return nil, &numeric.EncodingError{Value: data, Err: err}
	}
	word, err := readWord(raw, wordOffset*WordSize)
	if err != nil {
		return nil, err
	}

	switch t.T {
	case abi.AddressTy:
		return hexutil.Encode(word[WordSize-common.AddressLength:]), nil
	case abi.UintTy:
		return numeric.BigToDecimal(new(big.Int).SetBytes(word)), nil
	case abi.IntTy:
		return numeric.BigToDecimal(signed(word)), nil
	case abi.BoolTy:
		return readBool(word)
	case abi.FixedBytesTy:
		return hexutil.Encode(word[:t.Size]), nil
	case abi.StringTy, abi.BytesTy:
		payload, err := readDynamic(raw, word)
		if err != nil {
			return nil, err
		}
		if t.T == abi.StringTy {
			return string(payload), nil
		}
		return hexutil.Encode(payload), nil
	default:
		return nil, &UnsupportedTypeError{Type: typ}
	}
}

var tt256 = new(big.Int).Lsh(big.NewInt(1), 256)

// signed reads word as a two's-complement 256-bit integer.
func signed(word []byte) *big.Int {
	x := new(big.Int).SetBytes(word)
	if x.Bit(255) == 1 {
		x.Sub(x, tt256)
	}
	return x
}

// fitsSigned reports whether -2^(size-1) <= n < 2^(size-1).
func fitsSigned(n *big.Int, size int) bool {
	bound := new(big.Int).Lsh(big.NewInt(1), uint(size-1))
	return n.Cmp(new(big.Int).Neg(bound)) >= 0 && n.Cmp(bound) < 0
}

// readDynamic follows an offset pointer word to a length-prefixed payload.
func readDynamic(raw, pointer []byte) ([]byte, error) {
	off := new(big.Int).SetBytes(pointer)
	if !off.IsInt64() || off.Int64() > int64(len(raw)) {
		return nil, &DecodeRangeError{Offset: len(raw), Length: WordSize, Size: len(raw)}
	}
	lenWord, err := readWord(raw, int(off.Int64()))
	if err != nil {
		return nil, err
	}
	start := int(off.Int64()) + WordSize
	size := new(big.Int).SetBytes(lenWord)
	if !size.IsInt64() || size.Int64() > int64(len(raw)-start) {
		n := len(raw) - start + 1
		if size.IsInt64() {
			n = int(size.Int64())
		}
		return nil, &DecodeRangeError{Offset: start, Length: n, Size: len(raw)}
	}
	return raw[start : start+int(size.Int64())], nil
}

var errBadBool = errors.New("abi: improperly encoded boolean value")

func readBool(word []byte) (bool, error) {
	for _, b := range word[:WordSize-1] {
		if b != 0 {
			return false, errBadBool
		}
	}
	switch word[WordSize-1] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errBadBool
	}
}

// DecodeLog decodes the fields of an event log. Indexed inputs are read
// from topics[1:], the others from data, one 32-byte word per field.
func (c *Codec) DecodeLog(inputs []Param, topics []string, data string) (record.Record, error) {
	out := make(record.Record, len(inputs))
	topic, word := 1, 0
	for i, in := range inputs {
		name := in.Name
		if name == "" {
			name = fmt.Sprintf("arg%d", i)
		}

		if in.Indexed {
			if topic >= len(topics) {
				return nil, &DecodeRangeError{Offset: topic, Length: 1, Size: len(topics)}
			}
			t, err := parseType(in.Type)
			if err != nil {
				return nil, err
			}
			// dynamic indexed values are only available as their hash
			if t.T == abi.StringTy || t.T == abi.BytesTy || t.T == abi.SliceTy {
				out[name] = topics[topic]
			} else {
				v, err := c.DecodeValue(in.Type, topics[topic], 0)
				if err != nil {
					return nil, errors.Wrapf(err, "indexed field %s", name)
				}
				out[name] = v
			}
			topic++
			continue
		}

		v, err := c.DecodeValue(in.Type, data, word)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", name)
		}
		out[name] = v
		word++
	}
	return out, nil
}
