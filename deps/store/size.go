package store

import (
	"cmp"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

type storedFile struct {
	path    string
	size    int64
	modTime time.Time
}

// walkFiles visits every stored regular file under root. Temporary files of
// in-flight writes are skipped.
func walkFiles(root string, fn func(storedFile)) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".store-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fn(storedFile{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func dirSize(root string) (int64, error) {
	var total int64
	err := walkFiles(root, func(f storedFile) { total += f.size })
	return total, err
}

func pruneDir(root string, targetBytes int64) (freed, remaining int64, err error) {
	var files []storedFile
	if err := walkFiles(root, func(f storedFile) {
		files = append(files, f)
		remaining += f.size
	}); err != nil {
		return 0, 0, err
	}
	if remaining <= targetBytes {
		return 0, remaining, nil
	}

	slices.SortFunc(files, func(a, b storedFile) int {
		if c := a.modTime.Compare(b.modTime); c != 0 {
			return c
		}
		return cmp.Compare(a.path, b.path)
	})

	for _, f := range files {
		if remaining <= targetBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return freed, remaining, err
		}
		remaining -= f.size
		freed += f.size
	}
	return freed, remaining, nil
}
