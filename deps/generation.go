package deps

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/opencontainers/go-digest"
)

// Generation identifies one build of the cache.
type Generation struct {
	// Counter increases by one on every successful rebuild.
	Counter uint64

	// Fingerprint digests the inputs the build read.
	Fingerprint digest.Digest
}

// Stale reports whether fp differs from the fingerprint of the build.
func (g Generation) Stale(fp digest.Digest) bool { return g.Fingerprint != fp }

// FileStamp is the identity of a vanilla archive for fingerprinting.
type FileStamp struct {
	Name    string
	Size    int64
	ModTime int64 // unix nanoseconds
}

// MissingSize is the stamp size of a file that could not be stat'ed.
const MissingSize = -1

// StampFiles stats every path and returns their stamps sorted by name. A path
// that cannot be stat'ed gets a MissingSize stamp, so it still changes the
// fingerprint and the build reports it when opening the archive.
func StampFiles(paths []string) []FileStamp {
	stamps := make([]FileStamp, 0, len(paths))
	for _, p := range paths {
		s := FileStamp{Name: filepath.Base(p), Size: MissingSize}
		if info, err := os.Stat(p); err == nil {
			s.Size, s.ModTime = info.Size(), info.ModTime().UnixNano()
		}
		stamps = append(stamps, s)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Name < stamps[j].Name })
	return stamps
}

// Fingerprint digests the game selection, the vanilla archive stamps and the
// bulk regeneration id. Any change to them yields a different digest.
func Fingerprint(game string, vanilla []FileStamp, bulkID string) digest.Digest {
	d := digest.Canonical.Digester()
	h := d.Hash()
	fmt.Fprintf(h, "game\x00%s\x00", game)
	for _, s := range vanilla {
		fmt.Fprintf(h, "vanilla\x00%s\x00%d\x00%d\x00", s.Name, s.Size, s.ModTime)
	}
	fmt.Fprintf(h, "bulk\x00%s\x00", bulkID)
	return d.Digest()
}
