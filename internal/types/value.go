package types

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/return2faye/siltsql/internal/utils"
)

// ErrIllegalOperation is returned when an arithmetic or comparison operator
// is applied to operand types that cannot support it (e.g. adding a blob to
// a string).
var ErrIllegalOperation = errors.New("types: illegal operation on value")

// Value is a tagged union over the fifteen primitive types. Values are
// immutable once created; arithmetic and comparison operators return a new
// Value rather than mutating the receiver.
type Value struct {
	typ   Type
	bytes []byte
}

// Null is the singleton null value. Arithmetic and (non-equality)
// comparison involving Null propagate null per tri-valued logic; see
// internal/sql/eval.
var Null = Value{typ: TypeNull}

func NewValue(t Type, b []byte) (Value, error) {
	if !bytesMatchType(b, t) {
		return Value{}, fmt.Errorf("%w: bytes do not encode a %s", ErrIllegalOperation, t)
	}
	return Value{typ: t, bytes: b}, nil
}

func NewBoolean(b bool) Value {
	if b {
		return Value{typ: TypeBoolean, bytes: []byte{1}}
	}
	return Value{typ: TypeBoolean, bytes: []byte{0}}
}

func NewI64(v int64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return Value{typ: TypeI64, bytes: b}
}

func NewU64(v uint64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return Value{typ: TypeU64, bytes: b}
}

func NewF64(v float64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return Value{typ: TypeF64, bytes: b}
}

func NewString(s string) Value {
	return Value{typ: TypeString, bytes: []byte(s)}
}

func NewBlob(b []byte) Value {
	return Value{typ: TypeBlob, bytes: utils.CopyBytes(b)}
}

func (v Value) Type() Type    { return v.typ }
func (v Value) Bytes() []byte { return v.bytes }
func (v Value) IsNull() bool  { return v.typ == TypeNull }

func bytesMatchType(b []byte, t Type) bool {
	switch t {
	case TypeI8, TypeU8:
		return len(b) == 1
	case TypeI16, TypeU16:
		return len(b) == 2
	case TypeI32, TypeU32, TypeF32:
		return len(b) == 4
	case TypeI64, TypeU64, TypeF64:
		return len(b) == 8
	case TypeBoolean:
		return len(b) == 1
	case TypeString, TypeBlob:
		return true
	case TypeDate:
		return len(b) == 8
	case TypeNull:
		return len(b) == 0
	default:
		return false
	}
}

// AsI64 coerces the value to an int64, truncating floats.
func (v Value) AsI64() (int64, error) {
	switch v.typ {
	case TypeI64:
		return int64(binary.LittleEndian.Uint64(v.bytes)), nil
	case TypeU64:
		return int64(binary.LittleEndian.Uint64(v.bytes)), nil
	case TypeI32:
		return int64(int32(binary.LittleEndian.Uint32(v.bytes))), nil
	case TypeU32:
		return int64(binary.LittleEndian.Uint32(v.bytes)), nil
	case TypeI16:
		return int64(int16(binary.LittleEndian.Uint16(v.bytes))), nil
	case TypeU16:
		return int64(binary.LittleEndian.Uint16(v.bytes)), nil
	case TypeI8:
		return int64(int8(v.bytes[0])), nil
	case TypeU8:
		return int64(v.bytes[0]), nil
	case TypeF64:
		return int64(math.Float64frombits(binary.LittleEndian.Uint64(v.bytes))), nil
	case TypeF32:
		return int64(math.Float32frombits(binary.LittleEndian.Uint32(v.bytes))), nil
	case TypeBoolean:
		if v.bytes[0] != 0 {
			return 1, nil
		}
		return 0, nil
	case TypeDate:
		return int64(binary.LittleEndian.Uint64(v.bytes)), nil
	default:
		return 0, fmt.Errorf("%w: expected number, got %s", ErrIllegalOperation, v.typ)
	}
}

// AsF64 coerces the value to a float64.
func (v Value) AsF64() (float64, error) {
	switch v.typ {
	case TypeF64:
		return math.Float64frombits(binary.LittleEndian.Uint64(v.bytes)), nil
	case TypeF32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(v.bytes))), nil
	default:
		i, err := v.AsI64()
		if err != nil {
			return 0, err
		}
		return float64(i), nil
	}
}

func (v Value) AsString() (string, error) {
	if v.typ != TypeString {
		return "", fmt.Errorf("%w: expected string, got %s", ErrIllegalOperation, v.typ)
	}
	return string(v.bytes), nil
}

func (v Value) AsBoolean() (bool, error) {
	if v.typ != TypeBoolean {
		return false, fmt.Errorf("%w: expected boolean, got %s", ErrIllegalOperation, v.typ)
	}
	return v.bytes[0] != 0, nil
}

// String renders the value for diagnostics (EXPLAIN, error messages); it is
// not the wire format.
func (v Value) String() string {
	switch v.typ {
	case TypeNull:
		return "NULL"
	case TypeString:
		return string(v.bytes)
	case TypeBoolean:
		b, _ := v.AsBoolean()
		if b {
			return "true"
		}
		return "false"
	case TypeBlob:
		return fmt.Sprintf("%x", v.bytes)
	case TypeF32, TypeF64:
		f, _ := v.AsF64()
		return fmt.Sprintf("%g", f)
	case TypeDate:
		i, _ := v.AsI64()
		return fmt.Sprintf("date(%d)", i)
	default:
		i, _ := v.AsI64()
		return fmt.Sprintf("%d", i)
	}
}

// Equal implements equality per the tri-valued rule equal(null, null) = true;
// callers handling general null propagation should special-case nulls
// themselves (see internal/sql/eval) and only fall through to Equal for two
// non-null operands, except for the explicit equal(null,null) case.
func (v Value) Equal(other Value) (bool, error) {
	if v.IsNull() && other.IsNull() {
		return true, nil
	}
	if v.IsNull() || other.IsNull() {
		return false, nil
	}
	if v.typ.IsNumber() && other.typ.IsNumber() {
		if v.typ.IsFloat() || other.typ.IsFloat() {
			a, _ := v.AsF64()
			b, _ := other.AsF64()
			return a == b, nil
		}
		a, _ := v.AsI64()
		b, _ := other.AsI64()
		return a == b, nil
	}
	if v.typ == TypeString && other.typ == TypeString {
		return string(v.bytes) == string(other.bytes), nil
	}
	if v.typ == TypeBoolean && other.typ == TypeBoolean {
		a, _ := v.AsBoolean()
		b, _ := other.AsBoolean()
		return a == b, nil
	}
	if v.typ == TypeBlob && other.typ == TypeBlob {
		if len(v.bytes) != len(other.bytes) {
			return false, nil
		}
		for i := range v.bytes {
			if v.bytes[i] != other.bytes[i] {
				return false, nil
			}
		}
		return true, nil
	}
	return false, fmt.Errorf("%w: cannot compare %s and %s", ErrIllegalOperation, v.typ, other.typ)
}

// Compare orders v against other. Only defined for comparable types per
// Type.IsComparable; callers must exclude null beforehand.
func (v Value) Compare(other Value) (int, error) {
	if !v.typ.IsComparable(other.typ) {
		return 0, fmt.Errorf("%w: cannot compare %s and %s", ErrIllegalOperation, v.typ, other.typ)
	}
	if v.typ.IsNumber() && other.typ.IsNumber() {
		if v.typ.IsFloat() || other.typ.IsFloat() {
			a, _ := v.AsF64()
			b, _ := other.AsF64()
			switch {
			case a < b:
				return -1, nil
			case a > b:
				return 1, nil
			default:
				return 0, nil
			}
		}
		a, _ := v.AsI64()
		b, _ := other.AsI64()
		switch {
		case a < b:
			return -1, nil
		case a > b:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if v.typ == TypeString && other.typ == TypeString {
		a, b := string(v.bytes), string(other.bytes)
		switch {
		case a < b:
			return -1, nil
		case a > b:
			return 1, nil
		default:
			return 0, nil
		}
	}
	return 0, fmt.Errorf("%w: cannot order %s and %s", ErrIllegalOperation, v.typ, other.typ)
}

// arithmetic promotes integer⊕integer to integer, and promotes to float the
// moment either operand is floating point.
func (v Value) arithmetic(other Value, intOp func(a, b int64) int64, fpOp func(a, b float64) float64) (Value, error) {
	if !v.typ.IsNumber() || !other.typ.IsNumber() {
		return Value{}, fmt.Errorf("%w: arithmetic requires numbers, got %s and %s", ErrIllegalOperation, v.typ, other.typ)
	}
	if v.typ.IsFloat() || other.typ.IsFloat() {
		a, _ := v.AsF64()
		b, _ := other.AsF64()
		return NewF64(fpOp(a, b)), nil
	}
	a, _ := v.AsI64()
	b, _ := other.AsI64()
	return NewI64(intOp(a, b)), nil
}

func (v Value) Add(other Value) (Value, error) {
	return v.arithmetic(other, func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b })
}

func (v Value) Subtract(other Value) (Value, error) {
	return v.arithmetic(other, func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b })
}

func (v Value) Multiply(other Value) (Value, error) {
	return v.arithmetic(other, func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b })
}

func (v Value) Divide(other Value) (Value, error) {
	return v.arithmetic(other, func(a, b int64) int64 {
		if b == 0 {
			return 0
		}
		return a / b
	}, func(a, b float64) float64 { return a / b })
}

func (v Value) And(other Value) (Value, error) {
	a, err := v.AsBoolean()
	if err != nil {
		return Value{}, err
	}
	b, err := other.AsBoolean()
	if err != nil {
		return Value{}, err
	}
	return NewBoolean(a && b), nil
}

func (v Value) Or(other Value) (Value, error) {
	a, err := v.AsBoolean()
	if err != nil {
		return Value{}, err
	}
	b, err := other.AsBoolean()
	if err != nil {
		return Value{}, err
	}
	return NewBoolean(a || b), nil
}
