package schema

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/return2faye/siltsql/internal/types"
)

// Record is an unordered list of (column_id, bytes) pairs: the
// column-sparse unit every write touches, per spec.md §3. A write
// touching two columns of a ten-column row stores only those two.
type Record struct {
	fields map[uint32]types.Value
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{fields: make(map[uint32]types.Value)}
}

// Set stores v for columnID, overwriting any existing value for it.
func (r *Record) Set(columnID uint32, v types.Value) {
	if r.fields == nil {
		r.fields = make(map[uint32]types.Value)
	}
	r.fields[columnID] = v
}

// Get returns the value stored for columnID, if any.
func (r *Record) Get(columnID uint32) (types.Value, bool) {
	v, ok := r.fields[columnID]
	return v, ok
}

// ColumnIDs returns every column id this record has a value for.
func (r *Record) ColumnIDs() []uint32 {
	ids := make([]uint32, 0, len(r.fields))
	for id := range r.fields {
		ids = append(ids, id)
	}
	return ids
}

// HasAll reports whether the record has a value for every id in columnIDs,
// used by row-group accumulation to decide when a row is fully covered.
func (r *Record) HasAll(columnIDs []uint32) bool {
	for _, id := range columnIDs {
		if _, ok := r.fields[id]; !ok {
			return false
		}
	}
	return true
}

// Merge overwrites or inserts every (id, v) of other into r (newest-wins,
// per spec.md §4.13's record merge: "for each (id, v) of the new record,
// overwrite or insert in the accumulator").
func (r *Record) Merge(other *Record) {
	if r.fields == nil {
		r.fields = make(map[uint32]types.Value)
	}
	for id, v := range other.fields {
		r.fields[id] = v
	}
}

// Serialize encodes the record as [u16 column_id][u32 value_len][value_bytes]*.
func (r *Record) Serialize() []byte {
	var out []byte
	for id, v := range r.fields {
		enc := v.Encode()
		head := make([]byte, 2+4)
		binary.LittleEndian.PutUint16(head[0:2], uint16(id))
		binary.LittleEndian.PutUint32(head[2:6], uint32(len(enc)))
		out = append(out, head...)
		out = append(out, enc...)
	}
	return out
}

// DeserializeRecord decodes bytes produced by Serialize.
func DeserializeRecord(b []byte) (*Record, error) {
	r := NewRecord()
	for len(b) > 0 {
		if len(b) < 6 {
			return nil, io.ErrUnexpectedEOF
		}
		id := uint32(binary.LittleEndian.Uint16(b[0:2]))
		n := binary.LittleEndian.Uint32(b[2:6])
		if len(b) < int(6+n) {
			return nil, io.ErrUnexpectedEOF
		}
		v, _, err := types.DecodeValue(b[6 : 6+n])
		if err != nil {
			return nil, fmt.Errorf("schema: decoding column %d: %w", id, err)
		}
		r.Set(id, v)
		b = b[6+n:]
	}
	return r, nil
}
