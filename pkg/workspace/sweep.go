package workspace

import (
	"os"
	"path/filepath"
	"time"
)

// Entry is one on-disk task workspace discovered by Walk.
type Entry struct {
	ChannelID string
	TaskID    string
	Path      string
	ModTime   time.Time
}

// Walk lists every task workspace directory currently on disk, regardless
// of age. The retention sweep (pkg/cleanup) filters this against task
// status and ModTime before deciding what to purge - Walk itself makes no
// deletion decisions.
func (m *Manager) Walk() ([]Entry, error) {
	channelsDir := m.ChannelsDir()
	channelEntries, err := os.ReadDir(channelsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, ce := range channelEntries {
		if !ce.IsDir() {
			continue
		}
		projectsDir := filepath.Join(channelsDir, ce.Name(), "projects")
		taskEntries, err := os.ReadDir(projectsDir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, te := range taskEntries {
			if !te.IsDir() {
				continue
			}
			info, err := te.Info()
			if err != nil {
				return nil, err
			}
			out = append(out, Entry{
				ChannelID: ce.Name(),
				TaskID:    te.Name(),
				Path:      filepath.Join(projectsDir, te.Name()),
				ModTime:   info.ModTime(),
			})
		}
	}
	return out, nil
}
