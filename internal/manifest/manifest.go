// Package manifest implements the durable log of in-flight structural
// operations (memtable flush, compaction) that lets a keyspace resume an
// interrupted operation idempotently after a crash.
package manifest

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"

	"github.com/return2faye/siltsql/internal/vfs"
)

var ErrChecksum = errors.New("manifest: record checksum mismatch")

// Kind discriminates the JSON-encoded content of a manifest record.
type Kind string

const (
	KindMemtableFlush Kind = "memtable_flush"
	KindCompaction    Kind = "compaction"
	KindCompleted     Kind = "completed"
)

// MemtableFlush records a memtable being turned into an SSTable.
type MemtableFlush struct {
	MemtableID uint64 `json:"memtable_id"`
	SSTableID  uint64 `json:"sstable_id"`
}

// CompactionTask describes one compaction job: the source SSTable ids
// (read from their levels) and the destination level they merge into.
type CompactionTask struct {
	InputSSTableIDs []uint64 `json:"input_sstable_ids"`
	OutputLevel     uint32   `json:"output_level"`
	OutputSSTableID uint64   `json:"output_sstable_id"`
}

// Content is the decoded body of one record: exactly one of the three
// fields below is populated, selected by Kind.
type Content struct {
	Kind          Kind             `json:"kind"`
	MemtableFlush *MemtableFlush   `json:"memtable_flush,omitempty"`
	Compaction    *CompactionTask  `json:"compaction,omitempty"`
	CompletedID   *uint64          `json:"completed_id,omitempty"`
}

// Record is one manifest entry: an id plus its content.
type Record struct {
	ID      uint64  `json:"id"`
	Content Content `json:"content"`
}

// encode writes [u32 json_len][u32 crc][json_bytes].
func encode(r Record) ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	crc := crc32.ChecksumIEEE(body)
	out := make([]byte, 8+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(out[4:8], crc)
	copy(out[8:], body)
	return out, nil
}

func readOne(r *bufio.Reader) (Record, error) {
	head := make([]byte, 8)
	if _, err := io.ReadFull(r, head); err != nil {
		return Record{}, err
	}
	n := binary.LittleEndian.Uint32(head[0:4])
	crc := binary.LittleEndian.Uint32(head[4:8])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, io.ErrUnexpectedEOF
	}
	if crc32.ChecksumIEEE(body) != crc {
		return Record{}, ErrChecksum
	}
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ReadAll streams every record in path, in append order. A missing file is
// treated as empty.
func ReadAll(fs afero.Fs, path string) ([]Record, error) {
	f, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, afero.ErrFileNotFound) || os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var out []Record
	for {
		rec, err := readOne(r)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Manifest is the append-only log backing one keyspace's structural
// operations.
type Manifest struct {
	file   *vfs.File
	nextID uint64
}

// Open opens (creating if needed) the manifest file at path. seedNextID
// should be the next unused id, typically 1 + the highest id seen across
// ReadAll's result during recovery.
func Open(fs afero.Fs, path string, seedNextID uint64) (*Manifest, error) {
	f, err := vfs.Open(fs, path, vfs.ModeAppendOnly)
	if err != nil {
		return nil, err
	}
	if seedNextID == 0 {
		seedNextID = 1
	}
	return &Manifest{file: f, nextID: seedNextID}, nil
}

// AppendOperation assigns a fresh id to content and durably persists it,
// returning the id so the caller can later mark it complete.
func (m *Manifest) AppendOperation(content Content) (uint64, error) {
	id := m.nextID
	m.nextID++
	rec := Record{ID: id, Content: content}
	raw, err := encode(rec)
	if err != nil {
		return 0, err
	}
	if _, err := m.file.Write(raw); err != nil {
		return 0, err
	}
	return id, m.file.Fsync()
}

// MarkCompleted appends a Completed(id) marker.
func (m *Manifest) MarkCompleted(id uint64) error {
	rec := Record{ID: m.nextID, Content: Content{Kind: KindCompleted, CompletedID: &id}}
	m.nextID++
	raw, err := encode(rec)
	if err != nil {
		return err
	}
	if _, err := m.file.Write(raw); err != nil {
		return err
	}
	return m.file.Fsync()
}

// Rewrite atomically replaces the manifest's contents with records,
// per spec.md §4.10's post-recovery compaction of the log to only the
// unfinished entries.
func (m *Manifest) Rewrite(records []Record) error {
	var buf []byte
	for _, r := range records {
		raw, err := encode(r)
		if err != nil {
			return err
		}
		buf = append(buf, raw...)
	}
	return m.file.SafeReplace(buf)
}

func (m *Manifest) Close() error { return m.file.Close() }

// Pending replays records and returns the set of operations that have no
// matching Completed marker: these are the in-flight operations a keyspace
// must resume at startup, per spec.md §3's manifest invariant.
func Pending(records []Record) []Record {
	completed := make(map[uint64]struct{})
	for _, r := range records {
		if r.Content.Kind == KindCompleted && r.Content.CompletedID != nil {
			completed[*r.Content.CompletedID] = struct{}{}
		}
	}
	var pending []Record
	for _, r := range records {
		if r.Content.Kind == KindCompleted {
			continue
		}
		if _, done := completed[r.ID]; done {
			continue
		}
		pending = append(pending, r)
	}
	return pending
}

// MaxID returns the highest record id seen, or 0 if records is empty.
func MaxID(records []Record) uint64 {
	var max uint64
	for _, r := range records {
		if r.ID > max {
			max = r.ID
		}
	}
	return max
}
