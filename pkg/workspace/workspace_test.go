package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_PathAndDir(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	h := m.Handle("chan-1", "task-1")

	want := filepath.Join(root, "channels", "chan-1", "projects", "task-1")
	assert.Equal(t, want, h.Path())

	videoDir, err := h.Dir(KindVideos)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(want, "videos"), videoDir)

	info, err := os.Stat(videoDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestHandle_DirIsIdempotent(t *testing.T) {
	m := NewManager(t.TempDir())
	h := m.Handle("chan-1", "task-1")

	dir1, err := h.Dir(KindAudio)
	require.NoError(t, err)
	dir2, err := h.Dir(KindAudio)
	require.NoError(t, err)
	assert.Equal(t, dir1, dir2)
}

func TestHandle_Purge(t *testing.T) {
	m := NewManager(t.TempDir())
	h := m.Handle("chan-1", "task-1")

	_, err := h.Dir(KindFinal)
	require.NoError(t, err)

	require.NoError(t, h.Purge())

	_, err = os.Stat(h.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestHandle_PurgeNonexistentIsNoop(t *testing.T) {
	m := NewManager(t.TempDir())
	h := m.Handle("chan-never-created", "task-never-created")
	assert.NoError(t, h.Purge())
}

func TestAllKinds(t *testing.T) {
	kinds := AllKinds()
	assert.Len(t, kinds, 7)
	assert.Contains(t, kinds, KindCharacters)
	assert.Contains(t, kinds, KindFinal)

	kinds[0] = "mutated"
	assert.NotEqual(t, kinds[0], AllKinds()[0], "AllKinds must return a defensive copy")
}
