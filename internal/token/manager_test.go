package token

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signerkit/softtoken/internal/swap"
	"github.com/signerkit/softtoken/internal/testutils"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	fs := afero.NewOsFs()
	keyDir := filepath.Join(t.TempDir(), "keys")
	paths := NewPaths(fs, keyDir)
	codec := NewCodec(fs)
	enum := NewEnumerator(fs, paths)

	return NewManager(fs, paths, codec, enum, 2048, testutils.Logger(t))
}

func TestManagerInitialize(t *testing.T) {
	m := newTestManager(t)
	pin := []byte("123456")

	require.NoError(t, m.Initialize(pin))

	initialized, err := m.paths.IsTokenInitialized()
	require.NoError(t, err)
	assert.True(t, initialized)

	assert.NoError(t, m.VerifyPin(pin))
	assert.ErrorIs(t, m.VerifyPin([]byte("654321")), ErrIntegrity)

	// The marker must never show up as a key.
	ids, err := m.ListKeys()
	require.NoError(t, err)
	assert.Empty(t, ids)

	assert.Error(t, m.Initialize(pin), "double initialization must fail")
}

func TestManagerGenerateKey(t *testing.T) {
	m := newTestManager(t)
	pin := []byte("123456")
	require.NoError(t, m.Initialize(pin))

	first, err := m.GenerateKey(pin)
	require.NoError(t, err)
	second, err := m.GenerateKey(pin)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	ids, err := m.ListKeys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first, second}, ids)

	key, err := m.codec.LoadPrivateKey(m.paths.ContainerPath(first), PinAlias, pin)
	require.NoError(t, err)
	assert.NotNil(t, key)
}

func TestManagerChangePin(t *testing.T) {
	m := newTestManager(t)
	oldPin := []byte("123456")
	newPin := []byte("abcdef")

	require.NoError(t, m.Initialize(oldPin))
	first, err := m.GenerateKey(oldPin)
	require.NoError(t, err)
	second, err := m.GenerateKey(oldPin)
	require.NoError(t, err)

	require.NoError(t, m.ChangePin(oldPin, newPin))

	// Every container and the marker are readable under the new PIN only.
	assert.NoError(t, m.VerifyPin(newPin))
	assert.ErrorIs(t, m.VerifyPin(oldPin), ErrIntegrity)
	for _, id := range []string{first, second} {
		_, err := m.codec.LoadPrivateKey(m.paths.ContainerPath(id), PinAlias, newPin)
		assert.NoError(t, err)
		_, err = m.codec.LoadPrivateKey(m.paths.ContainerPath(id), PinAlias, oldPin)
		assert.ErrorIs(t, err, ErrIntegrity)
	}

	// No protocol directories or state are left behind.
	state, err := m.coordinator().Inspect()
	require.NoError(t, err)
	assert.Equal(t, swap.State{Live: true}, state)
	exists, err := afero.Exists(m.fs, m.paths.SwapStatePath())
	require.NoError(t, err)
	assert.False(t, exists)

	ids, err := m.ListKeys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first, second}, ids)
}

func TestManagerChangePinWrongPin(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Initialize([]byte("123456")))
	_, err := m.GenerateKey([]byte("123456"))
	require.NoError(t, err)

	err = m.ChangePin([]byte("wrong"), []byte("abcdef"))
	assert.ErrorIs(t, err, ErrIntegrity)

	// The failed pass stops before evict; the live directory is untouched and
	// recovery discards the stale stage.
	assert.NoError(t, m.VerifyPin([]byte("123456")))
	require.NoError(t, m.Recover())

	state, err := m.coordinator().Inspect()
	require.NoError(t, err)
	assert.Equal(t, swap.State{Live: true}, state)
}

func TestManagerRecover(t *testing.T) {
	t.Run("crash between evict and promote", func(t *testing.T) {
		m := newTestManager(t)
		pin := []byte("123456")
		require.NoError(t, m.Initialize(pin))
		keyID, err := m.GenerateKey(pin)
		require.NoError(t, err)

		coord := m.coordinator()
		require.NoError(t, coord.Stage())
		require.NoError(t, m.writeSwapPhase(swap.PhaseStaged))
		require.NoError(t, coord.Evict())
		require.NoError(t, m.writeSwapPhase(swap.PhaseEvicted))

		// Simulated crash: live path vacant, staged copy and backup present.
		require.NoError(t, m.Recover())

		state, err := coord.Inspect()
		require.NoError(t, err)
		assert.Equal(t, swap.State{Live: true}, state)

		_, err = m.codec.LoadPrivateKey(m.paths.ContainerPath(keyID), PinAlias, pin)
		assert.NoError(t, err)

		phase, err := m.readSwapPhase()
		require.NoError(t, err)
		assert.Equal(t, swap.PhaseNone, phase)
	})

	t.Run("crash after promote", func(t *testing.T) {
		m := newTestManager(t)
		pin := []byte("123456")
		require.NoError(t, m.Initialize(pin))

		coord := m.coordinator()
		require.NoError(t, coord.Stage())
		require.NoError(t, coord.Evict())
		require.NoError(t, coord.Promote())
		require.NoError(t, m.writeSwapPhase(swap.PhasePromoted))

		require.NoError(t, m.Recover())

		state, err := coord.Inspect()
		require.NoError(t, err)
		assert.Equal(t, swap.State{Live: true}, state)
	})

	t.Run("staged copy lost", func(t *testing.T) {
		m := newTestManager(t)
		pin := []byte("123456")
		require.NoError(t, m.Initialize(pin))

		coord := m.coordinator()
		require.NoError(t, coord.Stage())
		require.NoError(t, coord.Evict())
		require.NoError(t, m.writeSwapPhase(swap.PhaseEvicted))
		require.NoError(t, m.fs.RemoveAll(m.paths.TempKeyDir()))

		require.NoError(t, m.Recover())

		// The pre-swap originals are restored from backup.
		state, err := coord.Inspect()
		require.NoError(t, err)
		assert.Equal(t, swap.State{Live: true}, state)
		assert.NoError(t, m.VerifyPin(pin))
	})

	t.Run("unrecoverable", func(t *testing.T) {
		m := newTestManager(t)
		pin := []byte("123456")
		require.NoError(t, m.Initialize(pin))

		require.NoError(t, m.writeSwapPhase(swap.PhaseEvicted))
		require.NoError(t, m.fs.RemoveAll(m.paths.KeyDir()))

		assert.ErrorIs(t, m.Recover(), ErrUnrecoverable)
	})

	t.Run("nothing to recover", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.Recover())

		require.NoError(t, m.Initialize([]byte("123456")))
		require.NoError(t, m.Recover())
	})
}
