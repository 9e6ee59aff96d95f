package status

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

const recentFilesKey = "recent_files"

// restoreRecentFiles loads the saved list, dropping files that no longer
// exist.
func (p *Plugin) restoreRecentFiles() {
	if p.store == nil {
		return
	}

	var files []string
	found, err := p.store.Get(namespace, recentFilesKey, &files)
	if err != nil {
		p.logger.Warn("Failed to restore recent files", zap.Error(err))
		return
	}
	if !found {
		return
	}

	p.recent = p.recent[:0]
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		p.recent = append(p.recent, f)
		if len(p.recent) == p.maxRecent {
			break
		}
	}
	p.recentCh.Store(p.recentTuple())
}

// addRecentFile moves file to the front of the list.
func (p *Plugin) addRecentFile(file string, notify bool) {
	list := []string{file}
	for _, f := range p.recent {
		if f != file && len(list) < p.maxRecent {
			list = append(list, f)
		}
	}
	p.recent = list

	if notify {
		p.emit(p.recentCh, p.recentTuple())
		return
	}
	p.recentCh.Store(p.recentTuple())
}

func (p *Plugin) saveRecentFiles() error {
	if p.store == nil {
		return nil
	}
	if err := p.store.Put(namespace, recentFilesKey, p.recent); err != nil {
		return fmt.Errorf("failed to save recent files: %w", err)
	}
	return nil
}

// RecentFiles returns the loaded programs, most recent first.
func (p *Plugin) RecentFiles() []string {
	return append([]string(nil), p.recent...)
}

func (p *Plugin) recentTuple() []any {
	out := make([]any, len(p.recent))
	for i, f := range p.recent {
		out[i] = f
	}
	return out
}
