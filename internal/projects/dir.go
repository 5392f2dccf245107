package projects

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ashureev/bouncer-ai/internal/domain"
	"github.com/fsnotify/fsnotify"
)

// DirSource serves configs from a directory of YAML files, one project per
// file. Watch keeps it in sync with the directory.
type DirSource struct {
	dir    string
	logger *slog.Logger

	mu      sync.RWMutex
	configs map[string]*domain.BouncerConfig

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDirSource loads every config in dir.
func NewDirSource(dir string, logger *slog.Logger) (*DirSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &DirSource{dir: dir, logger: logger, configs: map[string]*domain.BouncerConfig{}}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the directory. Files that fail to parse are logged and
// skipped so one bad file does not take the others down.
func (s *DirSource) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read config dir %s: %w", s.dir, err)
	}

	next := make(map[string]*domain.BouncerConfig, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isConfigFile(e.Name()) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		cfg, err := LoadFile(path)
		if err != nil {
			s.logger.Warn("Skipping invalid project config", "path", path, "error", err)
			continue
		}
		if prev, dup := next[cfg.ProjectID]; dup {
			s.logger.Warn("Duplicate project config, keeping first", "project_id", prev.ProjectID, "path", path)
			continue
		}
		next[cfg.ProjectID] = cfg
	}

	s.mu.Lock()
	s.configs = next
	s.mu.Unlock()
	s.logger.Debug("Project configs loaded", "dir", s.dir, "count", len(next))
	return nil
}

// GetBouncerConfig implements Source.
func (s *DirSource) GetBouncerConfig(_ context.Context, projectID string) (*domain.BouncerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrConfigMissing)
	}
	c := *cfg
	return &c, nil
}

// Projects lists the loaded project IDs in order.
func (s *DirSource) Projects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.configs))
	for id := range s.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Watch reloads the directory whenever a YAML file in it changes, until
// ctx is cancelled or Close is called.
func (s *DirSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.watcher = watcher
	s.cancel = cancel

	s.wg.Add(1)
	go s.eventLoop(ctx)
	s.logger.Info("Watching project configs", "dir", s.dir)
	return nil
}

// Close stops the watcher, if any.
func (s *DirSource) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

func (s *DirSource) eventLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !isConfigFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Error("Project config reload failed", "error", err)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Project config watch error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}
