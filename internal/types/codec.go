package types

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encode writes the on-disk representation of a value: [u8 type][u32 len][bytes].
// Null encodes as just the type tag with a zero length.
func (v Value) Encode() []byte {
	out := make([]byte, 1+4+len(v.bytes))
	out[0] = uint8(v.typ)
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(v.bytes)))
	copy(out[5:], v.bytes)
	return out
}

// DecodeValue reads a value encoded by Encode, returning the number of bytes
// consumed.
func DecodeValue(b []byte) (Value, int, error) {
	if len(b) < 5 {
		return Value{}, 0, io.ErrUnexpectedEOF
	}
	t, err := ParseType(b[0])
	if err != nil {
		return Value{}, 0, err
	}
	n := binary.LittleEndian.Uint32(b[1:5])
	if len(b) < 5+int(n) {
		return Value{}, 0, io.ErrUnexpectedEOF
	}
	data := make([]byte, n)
	copy(data, b[5:5+n])
	return Value{typ: t, bytes: data}, 5 + int(n), nil
}

// Key is the ordered pair (UserBytes, TxnID) every storage-engine entry is
// addressed by: ascending by UserBytes, then ascending by TxnID, so newer
// versions of the same user key sort after older ones.
type Key struct {
	UserBytes []byte
	TxnID     uint64
}

func NewKey(userBytes []byte, txnID uint64) Key {
	return Key{UserBytes: userBytes, TxnID: txnID}
}

// Compare orders two keys per the invariant in spec.md §3.
func (k Key) Compare(other Key) int {
	if c := compareBytes(k.UserBytes, other.UserBytes); c != 0 {
		return c
	}
	switch {
	case k.TxnID < other.TxnID:
		return -1
	case k.TxnID > other.TxnID:
		return 1
	default:
		return 0
	}
}

// SameUserBytes reports whether two keys address the same logical row,
// ignoring the transaction-id component.
func (k Key) SameUserBytes(other Key) bool {
	return compareBytes(k.UserBytes, other.UserBytes) == 0
}

func compareBytes(a, b []byte) int {
	la, lb := len(a), len(b)
	n := la
	if lb < n {
		n = lb
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	default:
		return 0
	}
}

// Encode writes [u32 key_len][u64 txn_id][key_bytes], the key prefix of the
// WAL entry format (spec.md §6); SSTable block entries frame the key with a
// u16 length instead.
func (k Key) Encode() []byte {
	out := make([]byte, 4+8+len(k.UserBytes))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(k.UserBytes)))
	binary.LittleEndian.PutUint64(out[4:12], k.TxnID)
	copy(out[12:], k.UserBytes)
	return out
}

func DecodeKey(b []byte) (Key, int, error) {
	if len(b) < 12 {
		return Key{}, 0, io.ErrUnexpectedEOF
	}
	klen := binary.LittleEndian.Uint32(b[0:4])
	txnID := binary.LittleEndian.Uint64(b[4:12])
	if len(b) < 12+int(klen) {
		return Key{}, 0, io.ErrUnexpectedEOF
	}
	userBytes := make([]byte, klen)
	copy(userBytes, b[12:12+klen])
	return Key{UserBytes: userBytes, TxnID: txnID}, 12 + int(klen), nil
}

// IsTombstone reports whether a raw value slice represents a logical
// delete: spec.md §3 defines the tombstone as the empty value slice.
func IsTombstone(value []byte) bool {
	return len(value) == 0
}

var ErrDecode = fmt.Errorf("types: decode error")
