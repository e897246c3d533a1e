// Package token manages the on-disk key material of a software token: one
// encrypted container per key under a single key directory, an initialization
// marker, and the re-protection pass that rebuilds every container under a
// new PIN.
package token

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	// MarkerFile signals an initialized token by its presence under the key
	// directory. Its name must never match the container file predicate.
	MarkerFile = ".softtoken"

	// ContainerExt is the file extension of encrypted key containers.
	ContainerExt = ".jks"

	// PinAlias is the alias containers store their private-key entry under.
	PinAlias = "pin"

	tempDirSuffix   = ".tmp"
	backupDirSuffix = ".bak"
	swapStateSuffix = ".swap.json"
)

// Paths computes every location used by the token from a configured root.
// It performs no I/O beyond existence checks.
type Paths struct {
	fs     afero.Fs
	keyDir string
}

func NewPaths(fs afero.Fs, keyDir string) *Paths {
	return &Paths{fs: fs, keyDir: filepath.Clean(keyDir)}
}

func (p *Paths) KeyDir() string {
	return p.keyDir
}

// TempKeyDir is the staging sibling of the key directory used during a swap.
func (p *Paths) TempKeyDir() string {
	return p.keyDir + tempDirSuffix
}

// BackupKeyDir holds the pre-swap key directory between evict and retire.
func (p *Paths) BackupKeyDir() string {
	return p.keyDir + backupDirSuffix
}

// SwapStatePath is the externally durable record of swap protocol progress.
// It is a sibling of the key directory so it survives the swap renames.
func (p *Paths) SwapStatePath() string {
	return p.keyDir + swapStateSuffix
}

func (p *Paths) ContainerPath(keyID string) string {
	return filepath.Join(p.keyDir, keyID+ContainerExt)
}

func (p *Paths) TempContainerPath(keyID string) string {
	return filepath.Join(p.TempKeyDir(), keyID+ContainerExt)
}

func (p *Paths) MarkerPath() string {
	return filepath.Join(p.keyDir, MarkerFile)
}

func (p *Paths) TempMarkerPath() string {
	return filepath.Join(p.TempKeyDir(), MarkerFile)
}

// IsTokenInitialized reports whether the marker file exists directly under
// the key directory.
func (p *Paths) IsTokenInitialized() (bool, error) {
	ok, err := afero.Exists(p.fs, p.MarkerPath())
	if err != nil {
		return false, fmt.Errorf("failed to check marker file %q: %w", p.MarkerPath(), err)
	}
	return ok, nil
}
