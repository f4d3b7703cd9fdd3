// Package catalog implements the table/database layer (C19): schema-
// backed tables over storage-engine keyspaces, secondary-index posting
// lists, and the DDL/DML surface the planner drives.
package catalog

import (
	"bytes"

	"github.com/return2faye/siltsql/internal/storage"
	"github.com/return2faye/siltsql/internal/txn"
	"github.com/return2faye/siltsql/internal/utils"
)

// PostingList is the list of primary keys associated with one secondary
// index column value, per the GLOSSARY's "posting list" entry. It is
// itself a storage-engine keyspace: one composite key per (value,
// primary_key) pair, with an empty marker byte as the value.
//
// Per spec.md §9 Open Question (b), this repo resolves the posting-list
// merge question by giving index keyspaces no registered merge function
// at all (storage.defaultMerge, newest-wins-on-the-marker-byte) since a
// posting-list entry's value never changes shape the way a row's does —
// only its presence (Add) or absence (Remove, a tombstone) matters.
type PostingList struct {
	storage *storage.Storage
	ksID    uint64
}

// NewPostingList wraps the keyspace backing one secondary index.
func NewPostingList(s *storage.Storage, ksID uint64) *PostingList {
	return &PostingList{storage: s, ksID: ksID}
}

func postingKey(value, primaryKey []byte) []byte {
	key := make([]byte, 0, len(value)+len(primaryKey))
	key = append(key, value...)
	key = append(key, primaryKey...)
	return key
}

// Add records that primaryKey's row has the given indexed value.
func (p *PostingList) Add(t *txn.Transaction, value, primaryKey []byte) error {
	return p.storage.Set(p.ksID, postingKey(value, primaryKey), []byte{1}, t)
}

// Remove deletes the (value, primaryKey) posting, used when a row's
// indexed column changes or the row is deleted.
func (p *PostingList) Remove(t *txn.Transaction, value, primaryKey []byte) error {
	return p.storage.Delete(p.ksID, postingKey(value, primaryKey), t)
}

// Scan returns every primary key posted under value.
func (p *PostingList) Scan(t *txn.Transaction, value []byte) ([][]byte, error) {
	it, err := p.storage.ScanFrom(p.ksID, value, true, t)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out [][]byte
	for {
		userBytes, _, ok := it.Next()
		if !ok {
			break
		}
		if !bytes.HasPrefix(userBytes, value) {
			break
		}
		out = append(out, utils.CopyBytes(userBytes[len(value):]))
	}
	return out, nil
}

// ScanRange returns every primary key posted under a value between start
// and end, each bound included or excluded by its flag, used by
// SecondaryRangeScan.
func (p *PostingList) ScanRange(t *txn.Transaction, start []byte, inclusive bool, end []byte, endInclusive bool) ([][]byte, error) {
	it, err := p.storage.ScanFrom(p.ksID, start, inclusive, t)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out [][]byte
	for {
		userBytes, _, ok := it.Next()
		if !ok {
			break
		}
		if end != nil {
			valuePart := userBytes
			if len(valuePart) > len(end) {
				valuePart = valuePart[:len(end)]
			}
			c := bytes.Compare(valuePart, end)
			if c > 0 || (c == 0 && !endInclusive && len(userBytes) >= len(end)) {
				break
			}
		}
		pk := userBytes
		if len(pk) >= len(start) {
			pk = userBytes[minInt(len(userBytes), valueWidthGuess(start, end)):]
		}
		out = append(out, utils.CopyBytes(pk))
	}
	return out, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// valueWidthGuess recovers how many leading bytes of a posting key belong
// to the indexed value rather than the primary key, using whichever
// bound was supplied (both bounds share the indexed column's encoding
// width, per schema.EncodeOrderedKey).
func valueWidthGuess(start, end []byte) int {
	if len(start) > 0 {
		return len(start)
	}
	return len(end)
}
