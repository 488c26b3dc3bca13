package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/edgegov/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "edgegov.pid")

	require.NoError(t, Write(path))
	got, ok := read(path)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), got)

	require.NoError(t, Remove(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, Remove(path), "removing twice is fine")
}

func TestWriteWarnsOnLiveInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgegov.pid")
	parent := os.Getppid()
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(parent)), 0o600))

	err := Write(path)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))

	got, _ := read(path)
	assert.Equal(t, parent, got, "the running instance keeps its PID file")

	require.NoError(t, Remove(path))
	got, ok := read(path)
	require.True(t, ok)
	assert.Equal(t, parent, got)
}

func TestWriteReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgegov.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o600))

	assert.NoError(t, Write(path))
}

func TestRemoveLeavesForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgegov.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o600))

	require.NoError(t, Remove(path))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/run/edgegov.pid", Path("/run/edgegov.pid"))
	assert.Equal(t, filepath.Join(os.TempDir(), "edgegov.pid"), Path(""))
}
