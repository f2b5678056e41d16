package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanStaleLocks(t *testing.T) {
	t.Run("removes known lock artifacts only", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "SingletonLock"), nil, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "SingletonCookie"), nil, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "Preferences"), []byte("{}"), 0o644))

		removed, err := CleanStaleLocks(dir)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		_, err = os.Stat(filepath.Join(dir, "Preferences"))
		assert.NoError(t, err)
	})

	t.Run("missing profile directory is a no-op", func(t *testing.T) {
		removed, err := CleanStaleLocks(filepath.Join(t.TempDir(), "never-created"))
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}
