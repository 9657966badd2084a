package workbench

import (
	"fmt"
	"sync"

	"github.com/gurisko/workbench/internal/paths"
)

// Store binds a Config to its file. Every command builds a fresh Store and
// loads from disk; there is no cache across invocations.
type Store struct {
	mu   sync.Mutex
	root string
	path string
	cfg  *Config
}

// Open loads workbench.yaml under root.
func Open(root string) (*Store, error) {
	s := &Store{root: root, path: paths.ConfigPath(root)}
	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	s.cfg = cfg
	return s, nil
}

func (s *Store) Root() string    { return s.root }
func (s *Store) Path() string    { return s.path }
func (s *Store) Config() *Config { return s.cfg }

// UpsertAndSave merges rec and persists the file. On write failure the
// in-memory configuration is restored.
func (s *Store) UpsertAndSave(rec RepoConfig) (*RepoConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.cfg.clone()
	r, err := s.cfg.UpsertRepo(rec)
	if err != nil {
		return nil, err
	}
	if err := Save(s.path, s.cfg); err != nil {
		s.cfg = snapshot
		return nil, fmt.Errorf("save %s: %w", s.path, err)
	}
	return r, nil
}

// AddAndSave is UpsertAndSave for a repo that must not exist yet.
func (s *Store) AddAndSave(rec RepoConfig) (*RepoConfig, error) {
	s.mu.Lock()
	exists := s.cfg.Has(rec.Name)
	s.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrRepoExists, rec.Name)
	}
	return s.UpsertAndSave(rec)
}

// Save persists the current configuration.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Save(s.path, s.cfg)
}

func (c *Config) clone() *Config {
	out := &Config{
		Name:     c.Name,
		Version:  c.Version,
		Services: Services{Shared: append([]string(nil), c.Services.Shared...)},
		repos:    make(map[string]*RepoConfig, len(c.repos)),
		order:    append([]string(nil), c.order...),
	}
	if c.Environment.SharedEnv != nil {
		out.Environment.SharedEnv = make(map[string]string, len(c.Environment.SharedEnv))
		for k, v := range c.Environment.SharedEnv {
			out.Environment.SharedEnv[k] = v
		}
	}
	for k, v := range c.repos {
		r := *v
		out.repos[k] = &r
	}
	return out
}
