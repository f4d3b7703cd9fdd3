package schema

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/return2faye/siltsql/internal/types"
	"github.com/return2faye/siltsql/internal/utils"
)

// EncodeOrderedKey renders v as the byte-lexicographically ordered
// user-bytes a keyspace key uses, so that a PrimaryRangeScan/
// SecondaryRangeScan's engine-level range matches the column's natural
// ordering (spec.md §4.17's range scans rely on this).
func EncodeOrderedKey(v types.Value) ([]byte, error) {
	switch {
	case v.Type().IsSignedInteger() || v.Type().IsUnsignedInteger():
		n, err := v.AsI64()
		if err != nil {
			return nil, err
		}
		return orderedUint64(uint64(n) ^ (1 << 63)), nil
	case v.Type().IsFloat():
		f, err := v.AsF64()
		if err != nil {
			return nil, err
		}
		bits := math.Float64bits(f)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		return orderedUint64(bits), nil
	case v.Type() == types.TypeBoolean:
		b, err := v.AsBoolean()
		if err != nil {
			return nil, err
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case v.Type() == types.TypeString || v.Type() == types.TypeBlob:
		return utils.CopyBytes(v.Bytes()), nil
	case v.Type() == types.TypeDate:
		n, err := v.AsI64()
		if err != nil {
			return nil, err
		}
		return orderedUint64(uint64(n) ^ (1 << 63)), nil
	default:
		return nil, fmt.Errorf("schema: cannot order-encode type %s as a key", v.Type())
	}
}

func orderedUint64(bits uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, bits)
	return b
}
