// Package types implements the typed byte containers the rest of the engine
// builds on: Type (the fifteen-variant primitive tag), Value (a tagged union
// over those primitives) and Key (the user-bytes/txn-id pair storage keys are
// ordered by).
package types

import "fmt"

// Type tags the fifteen primitive value kinds a Value can hold.
type Type uint8

const (
	TypeI8 Type = iota + 1
	TypeU8
	TypeI16
	TypeU16
	TypeU32
	TypeI32
	TypeU64
	TypeI64
	TypeF32
	TypeF64
	TypeBoolean
	TypeString
	TypeDate
	TypeBlob
	TypeNull
)

func (t Type) String() string {
	switch t {
	case TypeI8:
		return "I8"
	case TypeU8:
		return "U8"
	case TypeI16:
		return "I16"
	case TypeU16:
		return "U16"
	case TypeU32:
		return "U32"
	case TypeI32:
		return "I32"
	case TypeU64:
		return "U64"
	case TypeI64:
		return "I64"
	case TypeF32:
		return "F32"
	case TypeF64:
		return "F64"
	case TypeBoolean:
		return "Boolean"
	case TypeString:
		return "String"
	case TypeDate:
		return "Date"
	case TypeBlob:
		return "Blob"
	case TypeNull:
		return "Null"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ParseType resolves a type's on-disk tag byte back into a Type.
func ParseType(id uint8) (Type, error) {
	t := Type(id)
	switch t {
	case TypeI8, TypeU8, TypeI16, TypeU16, TypeU32, TypeI32, TypeU64, TypeI64,
		TypeF32, TypeF64, TypeBoolean, TypeString, TypeDate, TypeBlob, TypeNull:
		return t, nil
	default:
		return 0, fmt.Errorf("types: unknown type tag %d", id)
	}
}

func (t Type) IsNull() bool { return t == TypeNull }

func (t Type) IsFloat() bool { return t == TypeF32 || t == TypeF64 }

func (t Type) IsSignedInteger() bool {
	switch t {
	case TypeI8, TypeI16, TypeI32, TypeI64:
		return true
	default:
		return false
	}
}

func (t Type) IsUnsignedInteger() bool {
	switch t {
	case TypeU8, TypeU16, TypeU32, TypeU64:
		return true
	default:
		return false
	}
}

func (t Type) IsInteger() bool { return t.IsSignedInteger() || t.IsUnsignedInteger() }

func (t Type) IsNumber() bool { return t.IsInteger() || t.IsFloat() }

// CanCastTo reports whether a value of type t may be coerced to other for
// the purposes of arithmetic/comparison: numbers coerce across width and
// signedness, null coerces with anything, everything else must match.
func (t Type) CanCastTo(other Type) bool {
	if t.IsFloat() && other.IsFloat() {
		return true
	}
	if t.IsInteger() && other.IsInteger() {
		return true
	}
	if t.IsNull() || other.IsNull() {
		return true
	}
	return t == other
}

// IsComparable reports whether values of type t can be ordered against
// values of type other (numbers against numbers, identical types, or null).
func (t Type) IsComparable(other Type) bool {
	if t.IsNumber() && other.IsNumber() {
		return true
	}
	if other.IsNull() || t.IsNull() {
		return true
	}
	return t == other
}
