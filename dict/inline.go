// Package dict maintains the bidirectional mapping between RDF terms
// and 64-bit IDs: the wire codec for term keys, inline encoding of
// numeric and temporal literals, the durable sequence allocator, and
// the sharded get-or-create dictionary.
package dict

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boutros/mimir/rdf"
)

// ID is a 64-bit term identifier: a 4-bit type tag in the top bits and
// a 60-bit payload. Dictionary-allocated IDs (IRI, blank node, general
// literal) carry a sequence number; inline IDs (integer, decimal,
// datetime) carry the literal value itself and never touch the
// dictionary.
//
// The tag values and payload layouts below are the canonical
// interchange format; on-disk data depends on them.
type ID uint64

// Type tags, bit 63 down to bit 60.
const (
	TagURI      = 1
	TagBNode    = 2
	TagLiteral  = 3
	TagInteger  = 4
	TagDecimal  = 5
	TagDateTime = 6
)

const (
	tagShift    = 60
	payloadMask = uint64(1)<<tagShift - 1

	// MaxSeq is the largest dictionary sequence number: 2^60 - 1.
	MaxSeq = payloadMask

	// Inline integers and epoch-millisecond datetimes are 60-bit
	// two's complement: [-2^59, 2^59).
	maxInline60 = int64(1) << 59

	// Inline decimals pack an 8-bit scale and a 52-bit two's
	// complement unscaled value.
	decimalScaleBits = 8
	decimalValueBits = tagShift - decimalScaleBits
	maxDecimalValue  = int64(1) << (decimalValueBits - 1)
	maxDecimalScale  = 1<<decimalScaleBits - 1
)

// ErrNotInline is returned when a value does not fit the inline layout.
var ErrNotInline = errors.New("not inline-encodable")

// MakeID assembles an ID from a type tag and payload.
func MakeID(tag uint8, payload uint64) ID {
	return ID(uint64(tag)<<tagShift | payload&payloadMask)
}

// Tag returns the ID's 4-bit type tag.
func (id ID) Tag() uint8 { return uint8(uint64(id) >> tagShift) }

// Payload returns the ID's 60-bit payload.
func (id ID) Payload() uint64 { return uint64(id) & payloadMask }

// IsInline reports whether the ID carries its literal value inline.
func (id ID) IsInline() bool {
	t := id.Tag()
	return t == TagInteger || t == TagDecimal || t == TagDateTime
}

// Bytes returns the ID in its 8-byte big-endian wire form.
func (id ID) Bytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

// IDFromBytes parses an 8-byte big-endian ID.
func IDFromBytes(b []byte) (ID, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("dict: ID must be 8 bytes, got %d", len(b))
	}
	return ID(binary.BigEndian.Uint64(b)), nil
}

func signed60(v int64) uint64 { return uint64(v) & payloadMask }

func unsigned60(p uint64) int64 {
	if p&(1<<(tagShift-1)) != 0 {
		return int64(p | ^payloadMask)
	}
	return int64(p)
}

// EncodeInteger inline-encodes an integer value. Fails with
// ErrNotInline outside [-2^59, 2^59).
func EncodeInteger(v int64) (ID, error) {
	if v < -maxInline60 || v >= maxInline60 {
		return 0, ErrNotInline
	}
	return MakeID(TagInteger, signed60(v)), nil
}

// DecodeInteger returns the value of an inline integer ID.
func DecodeInteger(id ID) (int64, error) {
	if id.Tag() != TagInteger {
		return 0, fmt.Errorf("dict: ID tag %d is not an inline integer", id.Tag())
	}
	return unsigned60(id.Payload()), nil
}

// EncodeDecimal inline-encodes a decimal as a scaled integer: the
// unscaled value in 52 bits plus an 8-bit scale, good for about 15
// significant digits. Fails with ErrNotInline beyond that.
func EncodeDecimal(unscaled int64, scale int) (ID, error) {
	if unscaled < -maxDecimalValue || unscaled >= maxDecimalValue {
		return 0, ErrNotInline
	}
	if scale < 0 || scale > maxDecimalScale {
		return 0, ErrNotInline
	}
	payload := uint64(scale)<<decimalValueBits | uint64(unscaled)&(1<<decimalValueBits-1)
	return MakeID(TagDecimal, payload), nil
}

// DecodeDecimal returns the unscaled value and scale of an inline
// decimal ID.
func DecodeDecimal(id ID) (unscaled int64, scale int, err error) {
	if id.Tag() != TagDecimal {
		return 0, 0, fmt.Errorf("dict: ID tag %d is not an inline decimal", id.Tag())
	}
	p := id.Payload()
	scale = int(p >> decimalValueBits)
	v := p & (1<<decimalValueBits - 1)
	if v&(1<<(decimalValueBits-1)) != 0 {
		unscaled = int64(v | ^uint64(1<<decimalValueBits-1))
	} else {
		unscaled = int64(v)
	}
	return unscaled, scale, nil
}

// EncodeDateTime inline-encodes an instant as milliseconds since the
// Unix epoch. Fails with ErrNotInline when the millisecond count does
// not fit 60 bits.
func EncodeDateTime(t time.Time) (ID, error) {
	ms := t.UnixMilli()
	if ms < -maxInline60 || ms >= maxInline60 {
		return 0, ErrNotInline
	}
	return MakeID(TagDateTime, signed60(ms)), nil
}

// DecodeDateTime returns the instant of an inline datetime ID, in UTC.
func DecodeDateTime(id ID) (time.Time, error) {
	if id.Tag() != TagDateTime {
		return time.Time{}, fmt.Errorf("dict: ID tag %d is not an inline datetime", id.Tag())
	}
	return time.UnixMilli(unsigned60(id.Payload())).UTC(), nil
}

// InlineID attempts to inline-encode a literal term. It only succeeds
// when decoding the resulting ID reproduces the term exactly, so a
// non-canonical lexical form ("042") falls back to the dictionary.
func InlineID(t rdf.Term) (ID, bool) {
	lit, ok := t.(rdf.Literal)
	if !ok {
		return 0, false
	}
	var id ID
	var err error
	switch lit.DataType() {
	case rdf.XSDinteger:
		var v int64
		if v, err = parseInt(lit.String()); err != nil {
			return 0, false
		}
		if id, err = EncodeInteger(v); err != nil {
			return 0, false
		}
	case rdf.XSDdecimal:
		var unscaled int64
		var scale int
		if unscaled, scale, err = parseDecimal(lit.String()); err != nil {
			return 0, false
		}
		if id, err = EncodeDecimal(unscaled, scale); err != nil {
			return 0, false
		}
	case rdf.XSDdateTime:
		var v time.Time
		if v, err = time.Parse(time.RFC3339Nano, lit.String()); err != nil {
			return 0, false
		}
		if v.Nanosecond()%int(time.Millisecond) != 0 {
			return 0, false // sub-millisecond precision cannot round-trip
		}
		if id, err = EncodeDateTime(v); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	round, err := DecodeInline(id)
	if err != nil || round != rdf.Term(lit) {
		return 0, false
	}
	return id, true
}

// DecodeInline reconstructs the literal term of an inline ID. This is
// a pure function of the ID's bits; no dictionary access.
func DecodeInline(id ID) (rdf.Term, error) {
	switch id.Tag() {
	case TagInteger:
		v, err := DecodeInteger(id)
		if err != nil {
			return nil, err
		}
		return rdf.NewTypedLiteral(fmt.Sprintf("%d", v), rdf.XSDinteger), nil
	case TagDecimal:
		unscaled, scale, err := DecodeDecimal(id)
		if err != nil {
			return nil, err
		}
		return rdf.NewTypedLiteral(formatDecimal(unscaled, scale), rdf.XSDdecimal), nil
	case TagDateTime:
		v, err := DecodeDateTime(id)
		if err != nil {
			return nil, err
		}
		return rdf.NewTypedLiteral(formatDateTime(v), rdf.XSDdateTime), nil
	}
	return nil, fmt.Errorf("dict: ID tag %d is not inline", id.Tag())
}

func parseInt(s string) (int64, error) {
	var v int64
	var neg bool
	if s == "" {
		return 0, errors.New("empty")
	}
	i := 0
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		i++
	}
	if i == len(s) {
		return 0, errors.New("no digits")
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, errors.New("not a digit")
		}
		d := int64(s[i] - '0')
		if v > (maxInline60-d)/10 {
			return 0, ErrNotInline
		}
		v = v*10 + d
	}
	if neg {
		v = -v
	}
	return v, nil
}

func parseDecimal(s string) (unscaled int64, scale int, err error) {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		v, err := parseInt(s)
		return v, 0, err
	}
	intPart, fracPart := s[:dot], s[dot+1:]
	if fracPart == "" || strings.ContainsAny(fracPart, "+-") {
		return 0, 0, errors.New("malformed decimal")
	}
	v, err := parseInt(intPart + fracPart)
	if err != nil {
		return 0, 0, err
	}
	return v, len(fracPart), nil
}

func formatDecimal(unscaled int64, scale int) string {
	if scale == 0 {
		return fmt.Sprintf("%d", unscaled)
	}
	neg := unscaled < 0
	digits := fmt.Sprintf("%d", abs64(unscaled))
	for len(digits) <= scale {
		digits = "0" + digits
	}
	out := digits[:len(digits)-scale] + "." + digits[len(digits)-scale:]
	if neg {
		out = "-" + out
	}
	return out
}

func formatDateTime(t time.Time) string {
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02T15:04:05Z")
	}
	return t.Format("2006-01-02T15:04:05.000Z")
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
