//go:build unix

package platform

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
)

// ErrSymlink is returned when a pack path inside a data root is a symbolic link.
var ErrSymlink = errors.New("platform: symbolic links not supported")

// OpenInRoot opens name read-only inside root without following a final
// symlink. Game data directories are opened through an os.Root so that a
// declared pack name cannot escape the directory.
func OpenInRoot(root *os.Root, name string) (*os.File, error) {
	info, err := root.Lstat(name)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, ErrSymlink
	}
	f, err := root.OpenFile(name, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		if errors.Is(err, syscall.ELOOP) {
			return nil, ErrSymlink
		}
		return nil, err
	}
	return f, nil
}
