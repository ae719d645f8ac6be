// Package workspace lays out the deterministic per-task filesystem tree
// stage executables read and write artifacts from.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Kind names one of the fixed subdirectories under a task's workspace.
type Kind string

// The fixed subtree every task workspace has.
const (
	KindCharacters Kind = "characters"
	KindEnvironments Kind = "environments"
	KindComposites Kind = "composites"
	KindVideos     Kind = "videos"
	KindAudio      Kind = "audio"
	KindSFX        Kind = "sfx"
	KindFinal      Kind = "final"
)

var allKinds = []Kind{
	KindCharacters, KindEnvironments, KindComposites, KindVideos, KindAudio, KindSFX, KindFinal,
}

// Manager constructs and purges per-task workspace directories under a
// configured root. No cross-task sharing is permitted: every path it hands
// out is rooted at <root>/channels/<channel_id>/projects/<task_id>.
type Manager struct {
	root string
}

// NewManager wraps root (WORKSPACE_ROOT) in a Manager.
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Handle is a logical reference to one task's directory tree. It does not
// itself touch the filesystem; directories are created lazily by Dir.
type Handle struct {
	root      string
	channelID string
	taskID    string
}

// Handle returns the workspace handle for (channelID, taskID). Cheap and
// side-effect free; safe to call repeatedly.
func (m *Manager) Handle(channelID, taskID string) *Handle {
	return &Handle{root: m.root, channelID: channelID, taskID: taskID}
}

// Path returns the task's root directory, without creating it.
func (h *Handle) Path() string {
	return filepath.Join(h.root, "channels", h.channelID, "projects", h.taskID)
}

// Dir returns the absolute path for kind under this task's workspace,
// auto-creating it (and any missing parents) on first access. Stage
// executables receive these paths as CLI arguments; they never construct
// paths themselves.
func (h *Handle) Dir(kind Kind) (string, error) {
	dir := filepath.Join(h.Path(), string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace dir %s: %w", dir, err)
	}
	return dir, nil
}

// Purge deletes the entire task subtree. Called on transition to PUBLISHED
// (the happy path) and by the retention sweep for orphaned workspaces left
// behind by tasks that never reached PUBLISHED.
func (h *Handle) Purge() error {
	if err := os.RemoveAll(h.Path()); err != nil {
		return fmt.Errorf("purge workspace %s: %w", h.Path(), err)
	}
	return nil
}

// Purge deletes the task subtree for (channelID, taskID) without requiring
// the caller to build a Handle first. Satisfies pkg/queue.WorkspacePurger,
// used by the worker's happy-path purge on a PUBLISHED commit.
func (m *Manager) Purge(channelID, taskID string) error {
	return m.Handle(channelID, taskID).Purge()
}

// ChannelsDir returns <root>/channels, the directory the retention sweep
// walks to find every per-task workspace currently on disk.
func (m *Manager) ChannelsDir() string {
	return filepath.Join(m.root, "channels")
}

// AllKinds returns every fixed subdirectory kind, in the order stage
// executables populate them.
func AllKinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}
