package perfmon

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the runtime encoding of a counter property. WMI returns
// performance counters either as decimal strings (VT_BSTR) or as native
// 32-bit integers (VT_I4); everything else is a decode failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindString
	KindInt32
)

// String returns the kind name for log fields and error messages.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt32:
		return "int32"
	default:
		return "unknown"
	}
}

// ErrUnsupportedKind is returned when a property carries an encoding the
// decoder does not recognize. Unknown tags are never guess-decoded.
var ErrUnsupportedKind = errors.New("perfmon: unsupported property encoding")

// Value is a tagged counter property value.
type Value struct {
	Kind Kind
	Str  string
	Int  int32
}

// StringValue returns a Value tagged as a textual-numeric counter.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// Int32Value returns a Value tagged as a native integer counter.
func Int32Value(n int32) Value { return Value{Kind: KindInt32, Int: n} }

// Uint decodes the value into an unsigned counter reading. Textual values are
// parsed as base-10 integers; native 32-bit integers are reinterpreted as
// unsigned, matching the service's counter semantics.
func (v Value) Uint() (uint64, error) {
	switch v.Kind {
	case KindString:
		n, err := strconv.ParseUint(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse counter string %q: %w", v.Str, err)
		}
		return n, nil
	case KindInt32:
		return uint64(uint32(v.Int)), nil
	default:
		return 0, ErrUnsupportedKind
	}
}
