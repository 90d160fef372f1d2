//go:build !unix

package platform

import (
	"errors"
	"io/fs"
	"os"
)

// ErrSymlink is returned when a pack path inside a data root is a symbolic link.
var ErrSymlink = errors.New("platform: symbolic links not supported")

// OpenInRoot opens name read-only inside root, refusing symbolic links.
func OpenInRoot(root *os.Root, name string) (*os.File, error) {
	info, err := root.Lstat(name)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, ErrSymlink
	}
	return root.Open(name)
}
