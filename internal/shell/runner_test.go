package shell

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_TrimsOutput(t *testing.T) {
	output, err := NewRunner().Run("echo hello", "", "")
	require.NoError(t, err)
	assert.Equal(t, "hello", output)
}

func TestRun_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0644))

	output, err := NewRunner().Run("ls", dir, "")
	require.NoError(t, err)
	assert.Equal(t, "marker.txt", output)
}

func TestRun_Stdin(t *testing.T) {
	output, err := NewRunner().Run("cat", "", "piped content")
	require.NoError(t, err)
	assert.Equal(t, "piped content", output)
}

func TestRun_FailureIncludesStderr(t *testing.T) {
	_, err := NewRunner().Run("echo oops >&2; exit 3", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")
}
