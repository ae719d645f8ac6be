package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalk_EmptyRootReturnsNil(t *testing.T) {
	m := NewManager(t.TempDir())
	entries, err := m.Walk()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWalk_FindsEveryTaskWorkspace(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	_, err := m.Handle("chan-a", "task-1").Dir(KindVideos)
	require.NoError(t, err)
	_, err = m.Handle("chan-a", "task-2").Dir(KindAudio)
	require.NoError(t, err)
	_, err = m.Handle("chan-b", "task-3").Dir(KindFinal)
	require.NoError(t, err)

	entries, err := m.Walk()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	seen := map[string]string{}
	for _, e := range entries {
		seen[e.TaskID] = e.ChannelID
	}
	assert.Equal(t, "chan-a", seen["task-1"])
	assert.Equal(t, "chan-a", seen["task-2"])
	assert.Equal(t, "chan-b", seen["task-3"])
}

func TestWalk_IgnoresNonDirectoryEntries(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	_, err := m.Handle("chan-a", "task-1").Dir(KindVideos)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(m.ChannelsDir(), "stray.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(m.ChannelsDir(), "chan-a", "projects", "stray.txt"), nil, 0o644))

	entries, err := m.Walk()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
