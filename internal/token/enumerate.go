package token

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// IsContainerFile reports whether a key-directory entry name refers to an
// encrypted key container. The marker-name check comes first and is
// authoritative: a marker file that happened to end with the container
// extension must still be excluded.
func IsContainerFile(name string) bool {
	if strings.HasPrefix(name, MarkerFile) {
		return false
	}
	return strings.HasSuffix(name, ContainerExt)
}

// Enumerator lists the key identifiers currently present on disk.
type Enumerator struct {
	fs    afero.Fs
	paths *Paths
}

func NewEnumerator(fs afero.Fs, paths *Paths) *Enumerator {
	return &Enumerator{fs: fs, paths: paths}
}

// ListKeyIDs scans the key directory's direct children and returns the
// identifiers of all container files, sorted. Callers should treat the
// result as a set.
func (e *Enumerator) ListKeyIDs() ([]string, error) {
	entries, err := afero.ReadDir(e.fs, e.paths.KeyDir())
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory %q: %w", e.paths.KeyDir(), err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !IsContainerFile(entry.Name()) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ContainerExt))
	}
	sort.Strings(ids)
	return ids, nil
}
