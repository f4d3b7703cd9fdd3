package wal

import (
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/return2faye/siltsql/internal/vfs"
)

// Discover scans dir for wal-<memtable_id> files left behind by an unclean
// shutdown and returns the memtable ids found, ascending, so the caller can
// replay them in the order their memtables were created.
func Discover(fs afero.Fs, dir string) ([]uint64, error) {
	names, err := vfs.ListFiles(fs, dir, "wal-*")
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(names))
	for _, name := range names {
		idStr := strings.TrimPrefix(name, "wal-")
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids, nil
}
