package exportcheckpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCheckpoint(t *testing.T) (*Checkpoint, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".export_checkpoint.json")
	cp, err := Load(path)
	require.NoError(t, err)
	return cp, path
}

func TestLifecycle(t *testing.T) {
	cp, _ := newTestCheckpoint(t)

	require.False(t, cp.IsCompleted("issues"))
	require.False(t, cp.ShouldResume("issues"))

	require.NoError(t, cp.MarkStarted("issues"))
	require.True(t, cp.ShouldResume("issues"))

	require.NoError(t, cp.UpdateProgress("issues", 25, 107))
	require.Equal(t, 107, cp.LastProcessedItem("issues"))

	require.NoError(t, cp.MarkCompleted("issues", true, ""))
	require.True(t, cp.IsCompleted("issues"))
	require.False(t, cp.ShouldResume("issues"))
}

func TestLastItemIDMonotonic(t *testing.T) {
	cp, _ := newTestCheckpoint(t)
	require.NoError(t, cp.MarkStarted("issues"))
	require.NoError(t, cp.UpdateProgress("issues", 10, 50))
	require.NoError(t, cp.UpdateProgress("issues", 11, 40), "stale id is ignored")
	require.Equal(t, 50, cp.LastProcessedItem("issues"))
}

func TestSurvivesReload(t *testing.T) {
	cp, path := newTestCheckpoint(t)
	require.NoError(t, cp.MarkStarted("merge_requests"))
	require.NoError(t, cp.UpdateProgress("merge_requests", 12, 34))
	require.NoError(t, cp.MarkCompleted("repository", true, ""))
	require.NoError(t, cp.MarkCompleted("wiki", false, "clone failed"))

	reloaded, err := Load(path)
	require.NoError(t, err)

	require.True(t, reloaded.ShouldResume("merge_requests"))
	require.Equal(t, 34, reloaded.LastProcessedItem("merge_requests"))
	require.True(t, reloaded.IsCompleted("repository"))

	entry, ok := reloaded.Entry("wiki")
	require.True(t, ok)
	require.Equal(t, StatusFailed, entry.Status)
	require.Equal(t, "clone failed", entry.Error)
}

func TestSummary(t *testing.T) {
	cp, _ := newTestCheckpoint(t)
	require.NoError(t, cp.MarkCompleted("repository", true, ""))
	require.NoError(t, cp.MarkCompleted("issues", false, "boom"))
	require.NoError(t, cp.MarkStarted("wiki"))

	s := cp.Summary()
	require.Equal(t, 3, s.TotalComponents)
	require.Equal(t, 1, s.Completed)
	require.Equal(t, 1, s.Failed)
	require.Equal(t, 1, s.Pending)
}

func TestAtomicReplaceLeavesNoTemp(t *testing.T) {
	cp, path := newTestCheckpoint(t)
	require.NoError(t, cp.MarkStarted("issues"))
	_, err := os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err), "temp file is renamed away")
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
