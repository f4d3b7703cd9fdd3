package sorter

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/return2faye/siltsql/internal/vfs"
)

// SortFile is a fixed-page-size scratch file in the database's tmp area
// (spec.md §6's `<root>/tmp/<n>/`), offering the write/read_row_bytes/
// get_next_page_offset operations spec.md §4.18 names.
type SortFile struct {
	file     *vfs.File
	pageSize int
	end      int64
}

// OpenSortFile opens (creating if absent) a random-access sort file at
// path.
func OpenSortFile(fs afero.Fs, path string, pageSize int) (*SortFile, error) {
	f, err := vfs.Open(fs, path, vfs.ModeRandom)
	if err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	return &SortFile{file: f, pageSize: pageSize, end: size}, nil
}

func (sf *SortFile) Close() error { return sf.file.Close() }

// WriteRow appends row as one or more pages and returns the offset of its
// first page, which callers use as the row's address.
func (sf *SortFile) WriteRow(row []byte) (int64, error) {
	pages, err := encodeRow(row, sf.pageSize)
	if err != nil {
		return 0, err
	}
	start := sf.end
	off := sf.end
	for _, p := range pages {
		if _, err := sf.file.WriteAt(p, off); err != nil {
			return 0, err
		}
		off += int64(sf.pageSize)
	}
	sf.end = off
	return start, nil
}

// ReadRowBytes stitches an overflow chain starting at offset and returns
// the row bytes plus the offset of the row immediately following it.
func (sf *SortFile) ReadRowBytes(offset int64) (row []byte, nextOffset int64, err error) {
	raw := make([]byte, sf.pageSize)
	if _, err := sf.file.Read(raw, offset); err != nil {
		return nil, 0, err
	}
	kind, payload, err := decodePage(raw)
	if err != nil {
		return nil, 0, err
	}
	switch kind {
	case PageNormal:
		if len(payload) < 4 {
			return nil, 0, fmt.Errorf("sorter: malformed normal page at offset %d", offset)
		}
		n := int(uint32From(payload[:4]))
		return append([]byte(nil), payload[4:4+n]...), offset + int64(sf.pageSize), nil
	case PageOverflowHead:
		if len(payload) < 4 {
			return nil, 0, fmt.Errorf("sorter: malformed overflow-head page at offset %d", offset)
		}
		total := int(uint32From(payload[:4]))
		out := make([]byte, 0, total)
		out = append(out, payload[4:]...)
		cur := offset + int64(sf.pageSize)
		for len(out) < total {
			tailRaw := make([]byte, sf.pageSize)
			if _, err := sf.file.Read(tailRaw, cur); err != nil {
				return nil, 0, err
			}
			tailKind, tailPayload, err := decodePage(tailRaw)
			if err != nil {
				return nil, 0, err
			}
			if tailKind != PageOverflowTail && tailKind != PageOverflowTailLast {
				return nil, 0, fmt.Errorf("sorter: expected overflow-tail page at offset %d", cur)
			}
			out = append(out, tailPayload...)
			cur += int64(sf.pageSize)
			if tailKind == PageOverflowTailLast {
				break
			}
		}
		return out, cur, nil
	default:
		return nil, 0, fmt.Errorf("sorter: unexpected page kind %d as a row start at offset %d", kind, offset)
	}
}

// GetNextPageOffset returns the offset of the page immediately following
// the row (or chain of overflow pages) starting at offset, skipping
// whatever overflow tail pages belong to it.
func (sf *SortFile) GetNextPageOffset(offset int64) (int64, error) {
	_, next, err := sf.ReadRowBytes(offset)
	return next, err
}

// End returns the current logical end of the file (the offset the next
// WriteRow will use).
func (sf *SortFile) End() int64 { return sf.end }

func uint32From(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
