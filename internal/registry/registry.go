//go:build unix

package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNotRunning indicates no record exists for the repo
	ErrNotRunning = errors.New("no process recorded")
	// ErrInvalidRecord indicates a record missing its repo name or PID
	ErrInvalidRecord = errors.New("invalid process record")
)

// Registry is the persisted table of live service processes. Mutations
// take an exclusive flock on a sibling lock file, reload the table, apply
// the change and write it back atomically, so concurrent workbench
// invocations do not lose each other's updates.
type Registry struct {
	filePath string
	data     *RegistryData
	mu       sync.RWMutex
}

// New creates a Registry backed by filePath and loads it if it exists.
func New(filePath string) (*Registry, error) {
	r := &Registry{
		filePath: filePath,
		data:     &RegistryData{Processes: make(map[string]*ProcessRecord)},
	}
	if err := r.Load(); err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return r, nil
}

// Load reads the registry from disk.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadNoLock()
}

func (r *Registry) loadNoLock() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			r.data = &RegistryData{Processes: make(map[string]*ProcessRecord)}
			return nil
		}
		return err
	}

	var rd RegistryData
	if err := yaml.Unmarshal(data, &rd); err != nil {
		return fmt.Errorf("failed to unmarshal registry: %w", err)
	}
	if rd.Processes == nil {
		rd.Processes = make(map[string]*ProcessRecord)
	}
	r.data = &rd
	return nil
}

// saveNoLock persists registry without locking (caller must hold lock)
func (r *Registry) saveNoLock() error {
	dir := filepath.Dir(r.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(r.data)
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	f, err := os.CreateTemp(dir, ".processes-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to fsync registry: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close registry file: %w", err)
	}
	if err := os.Rename(tmp, r.filePath); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}

	if dirf, err := os.Open(dir); err == nil {
		_ = dirf.Sync()
		_ = dirf.Close()
	}
	return nil
}

// mutate runs fn against freshly loaded data under both the in-process
// mutex and the cross-process file lock, then saves. When the save fails
// the previous state is restored.
func (r *Registry) mutate(fn func(d *RegistryData) (changed bool, err error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	unlock, err := r.lockFile()
	if err != nil {
		return err
	}
	defer unlock()

	if err := r.loadNoLock(); err != nil {
		return err
	}
	before := cloneData(r.data)

	changed, err := fn(r.data)
	if err != nil || !changed {
		return err
	}
	if err := r.saveNoLock(); err != nil {
		r.data = before
		return fmt.Errorf("persist failed: %w", err)
	}
	return nil
}

func (r *Registry) lockFile() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(r.filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(r.filePath+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to lock registry: %w", err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

// PutAndSave inserts or replaces the record for rec.Repo.
func (r *Registry) PutAndSave(rec *ProcessRecord) error {
	if rec.Repo == "" || rec.PID <= 0 {
		return fmt.Errorf("%w: repo=%q pid=%d", ErrInvalidRecord, rec.Repo, rec.PID)
	}
	cp := *rec
	return r.mutate(func(d *RegistryData) (bool, error) {
		d.Processes[cp.Repo] = &cp
		return true, nil
	})
}

// UpdateAndSave applies fn to the record of repo. The record must exist
// and still belong to pid; otherwise ErrNotRunning is returned.
func (r *Registry) UpdateAndSave(repo string, pid int, fn func(rec *ProcessRecord)) error {
	return r.mutate(func(d *RegistryData) (bool, error) {
		rec, ok := d.Processes[repo]
		if !ok || rec.PID != pid {
			return false, fmt.Errorf("%w: %s", ErrNotRunning, repo)
		}
		fn(rec)
		return true, nil
	})
}

// RemoveAndSave deletes the record of repo if it still belongs to pid
// (pid 0 matches any record).
func (r *Registry) RemoveAndSave(repo string, pid int) (*ProcessRecord, error) {
	var removed *ProcessRecord
	err := r.mutate(func(d *RegistryData) (bool, error) {
		rec, ok := d.Processes[repo]
		if !ok || (pid != 0 && rec.PID != pid) {
			return false, fmt.Errorf("%w: %s", ErrNotRunning, repo)
		}
		delete(d.Processes, repo)
		removed = rec
		return true, nil
	})
	return removed, err
}

// Get returns a copy of the record for repo.
func (r *Registry) Get(repo string) (*ProcessRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.data.Processes[repo]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// List returns copies of all records sorted by repo name.
func (r *Registry) List() []*ProcessRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ProcessRecord, 0, len(r.data.Processes))
	for _, rec := range r.data.Processes {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Repo < out[j].Repo })
	return out
}

// Prune drops records whose PID is no longer alive and returns them.
func (r *Registry) Prune(alive func(pid int) bool) ([]*ProcessRecord, error) {
	var pruned []*ProcessRecord
	err := r.mutate(func(d *RegistryData) (bool, error) {
		for repo, rec := range d.Processes {
			if !alive(rec.PID) {
				pruned = append(pruned, rec)
				delete(d.Processes, repo)
			}
		}
		return len(pruned) > 0, nil
	})
	sort.Slice(pruned, func(i, j int) bool { return pruned[i].Repo < pruned[j].Repo })
	return pruned, err
}

func cloneData(d *RegistryData) *RegistryData {
	out := &RegistryData{Processes: make(map[string]*ProcessRecord, len(d.Processes))}
	for k, v := range d.Processes {
		cp := *v
		out.Processes[k] = &cp
	}
	return out
}
