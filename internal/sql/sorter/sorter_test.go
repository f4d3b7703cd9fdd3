package sorter

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/spf13/afero"
)

func encodeInt(n int) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(int64(n)))
	return b
}

func decodeInt(b []byte) int {
	return int(int64(binary.LittleEndian.Uint64(b)))
}

func TestSortIsAPermutationSortedAscending(t *testing.T) {
	fs := afero.NewMemMapFs()
	rng := rand.New(rand.NewSource(1))
	var rows [][]byte
	for i := 0; i < 200; i++ {
		rows = append(rows, encodeInt(rng.Intn(1000)))
	}
	less := func(a, b []byte) bool { return decodeInt(a) < decodeInt(b) }

	sorted, err := Sort(fs, "/tmp/0", rows, less, 64)
	if err != nil {
		t.Fatal(err)
	}
	if len(sorted) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(sorted))
	}
	for i := 1; i < len(sorted); i++ {
		if decodeInt(sorted[i-1]) > decodeInt(sorted[i]) {
			t.Fatalf("not sorted at index %d: %d > %d", i, decodeInt(sorted[i-1]), decodeInt(sorted[i]))
		}
	}

	seen := map[int]int{}
	for _, r := range rows {
		seen[decodeInt(r)]++
	}
	for _, r := range sorted {
		seen[decodeInt(r)]--
	}
	for v, c := range seen {
		if c != 0 {
			t.Fatalf("sort output is not a permutation of its input: value %d off by %d", v, c)
		}
	}
}

func TestSortHandlesOverflowRows(t *testing.T) {
	fs := afero.NewMemMapFs()
	big := bytes.Repeat([]byte{0xAB}, 500)
	small := encodeInt(1)
	less := func(a, b []byte) bool { return len(a) < len(b) }

	sorted, err := Sort(fs, "/tmp/1", [][]byte{big, small}, less, 64)
	if err != nil {
		t.Fatal(err)
	}
	if len(sorted) != 2 || len(sorted[0]) != 8 || len(sorted[1]) != 500 {
		t.Fatalf("unexpected sorted output lengths: %d, %d", len(sorted[0]), len(sorted[1]))
	}
}
