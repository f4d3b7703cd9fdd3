// Package wal implements the per-memtable write-ahead log: every mutation
// applied to a memtable is appended here first so it can be replayed after
// a crash before the memtable itself reaches a flushed SSTable.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/return2faye/siltsql/internal/types"
	"github.com/return2faye/siltsql/internal/vfs"
)

var (
	ErrChecksum = errors.New("wal: checksum mismatch")
	ErrClosed   = errors.New("wal: writer is closed")
)

// Durability selects how aggressively a Writer forces entries to stable
// storage.
type Durability uint8

const (
	// Strong fsyncs after every AddEntry.
	Strong Durability = iota + 1
	// Weak relies on the OS page cache and an explicit Sync call, trading
	// durability for throughput.
	Weak
)

// Name returns the conventional WAL file name for a memtable id.
func Name(memtableID uint64) string {
	return fmt.Sprintf("wal-%d", memtableID)
}

// Writer appends entries to a single memtable's log.
type Writer struct {
	mu         sync.Mutex
	file       *vfs.File
	durability Durability
	closed     bool
}

// Open opens (creating if necessary) the WAL file for a memtable in the
// given keyspace directory.
func Open(fs afero.Fs, dir string, memtableID uint64, durability Durability) (*Writer, error) {
	path := dir + "/" + Name(memtableID)
	f, err := vfs.Open(fs, path, vfs.ModeAppendOnly)
	if err != nil {
		return nil, err
	}
	return &Writer{file: f, durability: durability}, nil
}

// AddEntry appends a single (key, value) pair. value may be empty to record
// a tombstone. Layout: [u32 key_len][u64 txn_id][key_bytes][u32 value_len]
// [value_bytes][u32 crc32], crc covering every preceding byte of the entry.
func (w *Writer) AddEntry(key types.Key, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	keyBytes := key.Encode()
	body := make([]byte, len(keyBytes)+4+len(value))
	copy(body, keyBytes)
	binary.LittleEndian.PutUint32(body[len(keyBytes):], uint32(len(value)))
	copy(body[len(keyBytes)+4:], value)

	sum := crc32.ChecksumIEEE(body)
	record := make([]byte, len(body)+4)
	copy(record, body)
	binary.LittleEndian.PutUint32(record[len(body):], sum)

	if _, err := w.file.Write(record); err != nil {
		return err
	}
	if w.durability == Strong {
		return w.file.Fsync()
	}
	return nil
}

// Sync forces any buffered entries to stable storage.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.file.Fsync()
}

// Close releases the underlying file handle without deleting the log.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// Delete removes the log file entirely, once its memtable has been safely
// flushed to an SSTable and recorded in the manifest.
func (w *Writer) Delete() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.file.Delete()
}

// Entry is a single decoded WAL record.
type Entry struct {
	Key   types.Key
	Value []byte
}

// DecodeError tags a corrupt record with enough context to locate it for
// diagnostics; ReadEntries stops at the first one rather than guessing at
// resynchronization.
type DecodeError struct {
	Offset int64
	Record int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wal: decode error at offset %d (record %d): %v", e.Offset, e.Record, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ReadEntries streams every entry from the WAL file at path, in append
// order, calling apply for each. It stops and returns a *DecodeError on the
// first entry whose checksum does not match, tagged with the byte offset
// and record index it was found at.
func ReadEntries(fs afero.Fs, path string, apply func(Entry) error) error {
	f, err := fs.Open(path)
	if err != nil {
		if os_IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset int64
	record := 0
	for {
		entry, consumed, err := readOneEntry(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &DecodeError{Offset: offset, Record: record, Err: err}
		}
		if applyErr := apply(entry); applyErr != nil {
			return applyErr
		}
		offset += consumed
		record++
	}
}

func readOneEntry(r *bufio.Reader) (Entry, int64, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return Entry{}, 0, err
	}
	keyLen := binary.LittleEndian.Uint32(lenBuf)

	rest := make([]byte, 8+int(keyLen))
	if _, err := io.ReadFull(r, rest); err != nil {
		return Entry{}, 0, io.ErrUnexpectedEOF
	}
	txnID := binary.LittleEndian.Uint64(rest[0:8])
	userBytes := make([]byte, keyLen)
	copy(userBytes, rest[8:])

	vlenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, vlenBuf); err != nil {
		return Entry{}, 0, io.ErrUnexpectedEOF
	}
	valueLen := binary.LittleEndian.Uint32(vlenBuf)
	value := make([]byte, valueLen)
	if valueLen > 0 {
		if _, err := io.ReadFull(r, value); err != nil {
			return Entry{}, 0, io.ErrUnexpectedEOF
		}
	}

	crcBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, crcBuf); err != nil {
		return Entry{}, 0, io.ErrUnexpectedEOF
	}
	expected := binary.LittleEndian.Uint32(crcBuf)

	body := make([]byte, 0, 4+len(rest)+4+len(value))
	body = append(body, lenBuf...)
	body = append(body, rest...)
	body = append(body, vlenBuf...)
	body = append(body, value...)
	actual := crc32.ChecksumIEEE(body)
	if actual != expected {
		return Entry{}, 0, ErrChecksum
	}

	total := int64(4 + len(rest) + 4 + len(value) + 4)
	return Entry{Key: types.NewKey(userBytes, txnID), Value: value}, total, nil
}

func os_IsNotExist(err error) bool {
	return errors.Is(err, afero.ErrFileNotFound) || os.IsNotExist(err)
}
