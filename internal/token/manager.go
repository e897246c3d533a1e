package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/signerkit/softtoken/internal/swap"
)

// Manager drives the token lifecycle: initialization, key generation, PIN
// verification, and the full re-protection pass that rebuilds every container
// under a new PIN via the directory swap protocol.
//
// All operations are synchronous and single-attempt. A single external actor
// must serialize access to the key directory tree; concurrent invocations
// against the same directory are undefined behavior.
type Manager struct {
	fs      afero.Fs
	paths   *Paths
	codec   *Codec
	enum    *Enumerator
	keyBits int
	logger  zerolog.Logger
}

func NewManager(fs afero.Fs, paths *Paths, codec *Codec, enum *Enumerator, keyBits int, logger zerolog.Logger) *Manager {
	return &Manager{
		fs:      fs,
		paths:   paths,
		codec:   codec,
		enum:    enum,
		keyBits: keyBits,
		logger:  logger,
	}
}

// Initialize creates the key directory and writes the initialization marker.
// The marker is itself a container holding a throwaway key under the pin
// alias, so the PIN can be verified later; no other component reads its
// content.
func (m *Manager) Initialize(pin []byte) error {
	initialized, err := m.paths.IsTokenInitialized()
	if err != nil {
		return err
	}
	if initialized {
		return errors.New("token is already initialized")
	}
	if err := m.fs.MkdirAll(m.paths.KeyDir(), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory %q: %w", m.paths.KeyDir(), err)
	}
	key, err := GenerateKeyPair(m.keyBits)
	if err != nil {
		return err
	}
	container, err := m.codec.CreateContainer(key, PinAlias, pin)
	if err != nil {
		return err
	}
	if err := m.codec.WriteContainer(container, m.paths.MarkerPath(), pin); err != nil {
		return err
	}
	m.logger.Info().Str("key_dir", m.paths.KeyDir()).Msg("software token initialized")
	return nil
}

// VerifyPin checks the PIN against the marker container. An ErrIntegrity
// result means the PIN is wrong or the marker is corrupt.
func (m *Manager) VerifyPin(pin []byte) error {
	_, err := m.codec.LoadPrivateKey(m.paths.MarkerPath(), PinAlias, pin)
	return err
}

// GenerateKey creates a new key pair, wraps it in a container protected by
// pin, persists it under a fresh random identifier, and returns that
// identifier.
func (m *Manager) GenerateKey(pin []byte) (string, error) {
	initialized, err := m.paths.IsTokenInitialized()
	if err != nil {
		return "", err
	}
	if !initialized {
		return "", errors.New("token is not initialized")
	}
	keyID := uuid.NewString()
	key, err := GenerateKeyPair(m.keyBits)
	if err != nil {
		return "", err
	}
	container, err := m.codec.CreateContainer(key, PinAlias, pin)
	if err != nil {
		return "", err
	}
	if err := m.codec.WriteContainer(container, m.paths.ContainerPath(keyID), pin); err != nil {
		return "", err
	}
	m.logger.Info().Str("key_id", keyID).Msg("generated key")
	return keyID, nil
}

// ListKeys returns the key identifiers currently present on disk.
func (m *Manager) ListKeys() ([]string, error) {
	return m.enum.ListKeyIDs()
}

// ChangePin re-protects every container (and the marker) under newPin by
// staging a copy of the key directory, rewriting the staged containers, and
// swapping the staged directory into place. The last completed swap phase is
// persisted after every transition so Recover can resolve a crash
// deterministically.
func (m *Manager) ChangePin(oldPin, newPin []byte) error {
	initialized, err := m.paths.IsTokenInitialized()
	if err != nil {
		return err
	}
	if !initialized {
		return errors.New("token is not initialized")
	}

	coord := m.coordinator()
	m.logger.Info().Str("key_dir", m.paths.KeyDir()).Msg("re-protecting key directory")

	if err := coord.Stage(); err != nil {
		return err
	}
	if err := m.writeSwapPhase(swap.PhaseStaged); err != nil {
		return err
	}

	ids, err := m.enum.ListKeyIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := m.reprotect(m.paths.TempContainerPath(id), oldPin, newPin); err != nil {
			return fmt.Errorf("failed to re-protect key %q: %w", id, err)
		}
	}
	if err := m.reprotect(m.paths.TempMarkerPath(), oldPin, newPin); err != nil {
		return fmt.Errorf("failed to re-protect marker container: %w", err)
	}

	if err := coord.Evict(); err != nil {
		return err
	}
	if err := m.writeSwapPhase(swap.PhaseEvicted); err != nil {
		return err
	}
	if err := coord.Promote(); err != nil {
		return err
	}
	if err := m.writeSwapPhase(swap.PhasePromoted); err != nil {
		return err
	}
	if err := coord.Retire(); err != nil {
		return err
	}
	if err := m.clearSwapPhase(); err != nil {
		return err
	}

	m.logger.Info().Int("keys", len(ids)).Msg("key directory re-protected")
	return nil
}

// Recover resolves a re-protection pass interrupted by a crash. It combines
// the persisted swap phase with the existence of the three protocol
// directories and either finishes the swap, discards a stale stage, or
// restores the live directory from backup. It never re-runs the container
// rewrite itself.
func (m *Manager) Recover() error {
	phase, err := m.readSwapPhase()
	if err != nil {
		return err
	}
	coord := m.coordinator()
	state, err := coord.Inspect()
	if err != nil {
		return err
	}

	switch {
	case state.Live && !state.Temp && !state.Backup:
		// Nothing in flight, or retire completed before the phase record was
		// cleared.
		return m.clearSwapPhase()

	case state.Live && state.Backup:
		// Promote completed. Finish by retiring the backup; a leftover stage
		// is stale at this point.
		if state.Temp {
			if err := m.fs.RemoveAll(m.paths.TempKeyDir()); err != nil {
				return fmt.Errorf("failed to remove stale temp directory: %w", err)
			}
		}
		if err := coord.Retire(); err != nil {
			return err
		}
		return m.clearSwapPhase()

	case state.Live && state.Temp:
		// Staged but never evicted. The live directory is intact; discard the
		// stage and let the caller start the pass over.
		m.logger.Warn().Str("temp", m.paths.TempKeyDir()).Msg("discarding interrupted stage directory")
		if err := m.fs.RemoveAll(m.paths.TempKeyDir()); err != nil {
			return fmt.Errorf("failed to remove stage directory: %w", err)
		}
		return m.clearSwapPhase()

	case !state.Live && state.Temp:
		// Crash between evict and promote. The staged copy is complete;
		// resume from promote.
		if err := coord.Promote(); err != nil {
			return err
		}
		if state.Backup {
			if err := coord.Retire(); err != nil {
				return err
			}
		}
		m.logger.Info().Msg("resumed interrupted swap from staged directory")
		return m.clearSwapPhase()

	case !state.Live && state.Backup:
		// The staged copy is gone; fall back to the pre-swap originals.
		m.logger.Warn().Str("backup", m.paths.BackupKeyDir()).Msg("restoring key directory from backup")
		if err := m.fs.Rename(m.paths.BackupKeyDir(), m.paths.KeyDir()); err != nil {
			return fmt.Errorf("failed to restore key directory from backup: %w", err)
		}
		return m.clearSwapPhase()

	default:
		if phase == swap.PhaseNone {
			// Token was never initialized. Nothing to recover.
			return nil
		}
		return fmt.Errorf("%w (last recorded phase %q)", ErrUnrecoverable, phase)
	}
}

func (m *Manager) coordinator() *swap.Coordinator {
	return swap.NewCoordinator(m.fs, m.paths.KeyDir(), m.paths.TempKeyDir(), m.paths.BackupKeyDir(), m.logger)
}

func (m *Manager) reprotect(path string, oldPin, newPin []byte) error {
	key, err := m.codec.LoadPrivateKey(path, PinAlias, oldPin)
	if err != nil {
		return err
	}
	container, err := m.codec.CreateContainer(key, PinAlias, newPin)
	if err != nil {
		return err
	}
	return m.codec.WriteContainer(container, path, newPin)
}

type swapRecord struct {
	Phase     swap.Phase `json:"phase"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (m *Manager) writeSwapPhase(phase swap.Phase) error {
	raw, err := json.Marshal(swapRecord{Phase: phase, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal swap state: %w", err)
	}
	if err := afero.WriteFile(m.fs, m.paths.SwapStatePath(), raw, 0o600); err != nil {
		return fmt.Errorf("failed to write swap state: %w", err)
	}
	return nil
}

func (m *Manager) readSwapPhase() (swap.Phase, error) {
	raw, err := afero.ReadFile(m.fs, m.paths.SwapStatePath())
	if errors.Is(err, os.ErrNotExist) {
		return swap.PhaseNone, nil
	} else if err != nil {
		return swap.PhaseNone, fmt.Errorf("failed to read swap state: %w", err)
	}
	var rec swapRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return swap.PhaseNone, fmt.Errorf("failed to parse swap state: %w", err)
	}
	return rec.Phase, nil
}

func (m *Manager) clearSwapPhase() error {
	err := m.fs.Remove(m.paths.SwapStatePath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove swap state: %w", err)
	}
	return nil
}
