// Package sorter implements the external k-way two-file run-merge sort
// described in spec.md §4.18. The planner's FullSortStep sorts every
// ORDER BY without a LIMIT through it, whatever the row count.
package sorter

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind tags a sort page: a normal page holds a whole row; a row too large
// for one page spills across an overflow-head page and one or more
// overflow-tail pages, the last of which is tagged Last.
//
// spec.md §4.18 describes a normal page as holding "≥1 whole row"; this
// implementation simplifies to exactly one row per normal page, which
// keeps the page/run bookkeeping a plain row-count rather than a
// variable-capacity packing problem, at the cost of some wasted space on
// small rows.
type Kind uint8

const (
	PageNormal Kind = iota
	PageOverflowHead
	PageOverflowTail
	PageOverflowTailLast
)

const pageHeaderSize = 1 + 4 // kind + payload length

var ErrRowTooLargeForSort = errors.New("sorter: row exceeds the configured sort page size even as a single overflow fragment")

func encodePage(kind Kind, payload []byte, pageSize int) ([]byte, error) {
	if pageHeaderSize+len(payload) > pageSize {
		return nil, fmt.Errorf("sorter: payload of %d bytes does not fit a %d-byte page", len(payload), pageSize)
	}
	buf := make([]byte, pageSize)
	buf[0] = byte(kind)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[pageHeaderSize:], payload)
	return buf, nil
}

func decodePage(raw []byte) (Kind, []byte, error) {
	if len(raw) < pageHeaderSize {
		return 0, nil, fmt.Errorf("sorter: short page: %d bytes", len(raw))
	}
	kind := Kind(raw[0])
	n := binary.LittleEndian.Uint32(raw[1:5])
	if int(n) > len(raw)-pageHeaderSize {
		return 0, nil, fmt.Errorf("sorter: page payload length %d exceeds page body", n)
	}
	return kind, raw[pageHeaderSize : pageHeaderSize+int(n)], nil
}

// encodeRow splits row into one or more pages of pageSize bytes: a single
// PageNormal page if it fits, otherwise an overflow chain.
func encodeRow(row []byte, pageSize int) ([][]byte, error) {
	capacity := pageSize - pageHeaderSize
	if capacity <= 4 {
		return nil, fmt.Errorf("sorter: page size %d too small to hold any row", pageSize)
	}
	if len(row)+4 <= capacity {
		head := make([]byte, 4+len(row))
		binary.LittleEndian.PutUint32(head[:4], uint32(len(row)))
		copy(head[4:], row)
		p, err := encodePage(PageNormal, head, pageSize)
		if err != nil {
			return nil, err
		}
		return [][]byte{p}, nil
	}

	var pages [][]byte
	headCapacity := capacity - 4
	headChunk := row
	if len(headChunk) > headCapacity {
		headChunk = row[:headCapacity]
	}
	headPayload := make([]byte, 4+len(headChunk))
	binary.LittleEndian.PutUint32(headPayload[:4], uint32(len(row)))
	copy(headPayload[4:], headChunk)
	p, err := encodePage(PageOverflowHead, headPayload, pageSize)
	if err != nil {
		return nil, err
	}
	pages = append(pages, p)

	rest := row[len(headChunk):]
	for len(rest) > 0 {
		chunk := rest
		last := true
		if len(chunk) > capacity {
			chunk = rest[:capacity]
			last = false
		}
		kind := PageOverflowTail
		if last {
			kind = PageOverflowTailLast
		}
		p, err := encodePage(kind, chunk, pageSize)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
		rest = rest[len(chunk):]
	}
	return pages, nil
}
