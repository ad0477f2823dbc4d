package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsage is the on-disk footprint of each data store, in bytes.
type DiskUsage struct {
	Database int64 `json:"database_bytes"`
	Keyword  int64 `json:"keyword_bytes"`
	Vectors  int64 `json:"vectors_bytes"`
}

// Total sums all components.
func (u DiskUsage) Total() int64 {
	return u.Database + u.Keyword + u.Vectors
}

// MeasureDiskUsage sizes the database file (with its WAL and shm siblings),
// the keyword index directory and the vector snapshot directory.
func MeasureDiskUsage(dbPath, keywordDir, vectorDir string) (DiskUsage, error) {
	var u DiskUsage
	var err error
	if u.Database, err = PathSize(dbPath, dbPath+"-wal", dbPath+"-shm"); err != nil {
		return u, err
	}
	if u.Keyword, err = PathSize(keywordDir); err != nil {
		return u, err
	}
	if u.Vectors, err = PathSize(vectorDir); err != nil {
		return u, err
	}
	return u, nil
}

// PathSize returns the total size of the given files and directories.
// Empty and missing paths count as zero.
func PathSize(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
