// Package swap implements the directory replacement protocol used to swap the
// entire key directory for a re-protected copy without losing data on a crash.
//
// The protocol has five steps: stage (copy live into temp), external
// population of the temp directory by the caller, evict (rename live to
// backup), promote (rename temp into the live path), and retire (delete the
// backup). Evict and promote are each a single atomic rename, but the pair is
// not a transaction: a crash between them leaves the live path empty with the
// only copy of the old data in the backup directory. The coordinator never
// detects or repairs that state itself; callers persist the last completed
// Phase and resolve interruptions with the help of Inspect.
package swap

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Phase identifies the last completed protocol step. Callers persist it to
// durable storage after each transition so that crash recovery is
// deterministic instead of being inferred from directory presence alone.
type Phase string

const (
	// PhaseNone means no swap is in flight.
	PhaseNone Phase = ""
	// PhaseStaged means the live directory has been copied into the temp
	// directory. The live directory is still fully intact.
	PhaseStaged Phase = "staged"
	// PhaseEvicted means the live directory has been renamed to the backup
	// location. The live path is vacant until promote completes.
	PhaseEvicted Phase = "evicted"
	// PhasePromoted means the temp directory now occupies the live path. Only
	// the backup remains to be retired.
	PhasePromoted Phase = "promoted"
)

// State reports which of the three protocol directories exist on disk.
type State struct {
	Live   bool
	Temp   bool
	Backup bool
}

// Coordinator runs the swap steps over raw filesystem primitives. Every step
// is single-attempt; failures are propagated verbatim and never retried.
type Coordinator struct {
	fs     afero.Fs
	live   string
	temp   string
	backup string
	logger zerolog.Logger
}

func NewCoordinator(fs afero.Fs, live, temp, backup string, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		fs:     fs,
		live:   live,
		temp:   temp,
		backup: backup,
		logger: logger,
	}
}

// Stage recursively copies the live directory into the temp directory,
// replacing any leftover temp contents. Not atomic: a crash mid-copy leaves
// the temp directory inconsistent, but the live directory is untouched.
func (c *Coordinator) Stage() error {
	if err := c.fs.RemoveAll(c.temp); err != nil {
		return fmt.Errorf("failed to clear temp directory %q: %w", c.temp, err)
	}
	if err := copyDir(c.fs, c.live, c.temp); err != nil {
		return fmt.Errorf("failed to stage %q into %q: %w", c.live, c.temp, err)
	}
	c.logger.Debug().Str("live", c.live).Str("temp", c.temp).Msg("staged key directory")
	return nil
}

// Evict renames the live directory to the backup location. A single rename,
// atomic with respect to crashes on the same volume.
func (c *Coordinator) Evict() error {
	if err := c.fs.Rename(c.live, c.backup); err != nil {
		return fmt.Errorf("failed to evict %q to %q: %w", c.live, c.backup, err)
	}
	c.logger.Debug().Str("backup", c.backup).Msg("evicted key directory")
	return nil
}

// Promote renames the temp directory into the now-vacant live path. Also a
// single atomic rename.
func (c *Coordinator) Promote() error {
	if err := c.fs.Rename(c.temp, c.live); err != nil {
		return fmt.Errorf("failed to promote %q to %q: %w", c.temp, c.live, err)
	}
	c.logger.Debug().Str("live", c.live).Msg("promoted staged directory")
	return nil
}

// Retire deletes the backup directory. Irreversible; callers must only invoke
// it once the promoted directory is verified usable.
func (c *Coordinator) Retire() error {
	if err := c.fs.RemoveAll(c.backup); err != nil {
		return fmt.Errorf("failed to retire backup directory %q: %w", c.backup, err)
	}
	c.logger.Debug().Str("backup", c.backup).Msg("retired backup directory")
	return nil
}

// Inspect reports which protocol directories currently exist. Recovery
// procedures combine this with the persisted Phase to decide how to resume.
func (c *Coordinator) Inspect() (State, error) {
	var state State
	var err error
	if state.Live, err = afero.DirExists(c.fs, c.live); err != nil {
		return State{}, fmt.Errorf("failed to check directory %q: %w", c.live, err)
	}
	if state.Temp, err = afero.DirExists(c.fs, c.temp); err != nil {
		return State{}, fmt.Errorf("failed to check directory %q: %w", c.temp, err)
	}
	if state.Backup, err = afero.DirExists(c.fs, c.backup); err != nil {
		return State{}, fmt.Errorf("failed to check directory %q: %w", c.backup, err)
	}
	return state, nil
}

func copyDir(fsys afero.Fs, src, dst string) error {
	info, err := fsys.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %q: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %q is not a directory", src)
	}
	if err := fsys.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dst, err)
	}
	entries, err := afero.ReadDir(fsys, src)
	if err != nil {
		return fmt.Errorf("failed to read directory %q: %w", src, err)
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDir(fsys, srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(fsys, srcPath, dstPath, entry.Mode().Perm()); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(fsys afero.Fs, src, dst string, perm os.FileMode) error {
	in, err := fsys.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", src, err)
	}
	defer in.Close()

	out, err := fsys.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %q to %q: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %q: %w", dst, err)
	}
	return nil
}
