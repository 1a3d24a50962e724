package interpreters

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

// reloadDebounce collapses the event bursts editors emit while saving
// into a single reload.
const reloadDebounce = 100 * time.Millisecond

// Spec is one named way to launch a kernel runtime.
type Spec struct {
	Name string            `yaml:"name" json:"name"`
	Cmd  string            `yaml:"cmd" json:"cmd"`
	Args []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Cwd  string            `yaml:"cwd,omitempty" json:"cwd,omitempty"`
	Env  map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// DiscoveryRules tell Discover where to hunt for interpreter binaries
// nobody registered by hand.
type DiscoveryRules struct {
	Roots    []string `yaml:"roots,omitempty" json:"roots,omitempty"`
	Patterns []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
}

// registryFile is the on-disk YAML shape.
type registryFile struct {
	Interpreters []Spec         `yaml:"interpreters"`
	Discovery    DiscoveryRules `yaml:"discovery"`
}

// Registry holds named interpreter launch specs loaded from a YAML file
// and re-reads the file when it changes on disk, so edits land without a
// restart. A reload that fails to parse keeps the last good state.
type Registry struct {
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	specs map[string]Spec
	order []string
	rules DiscoveryRules

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// NewRegistry loads path and starts watching it. An empty path yields an
// empty registry with no watcher, for installs that only use builtins.
func NewRegistry(path string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		path:   path,
		logger: logger,
		specs:  make(map[string]Spec),
		done:   make(chan struct{}),
	}
	if path == "" {
		return r, nil
	}

	r.path = filepath.Clean(path)
	if err := r.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create registry watcher: %w", err)
	}
	// Watch the parent directory rather than the file itself: editors
	// replace files by rename, which silently drops a direct file watch.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}
	r.watcher = watcher
	go r.watch()
	return r, nil
}

// Get returns the spec registered under name.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// List returns all specs in file order.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.specs[name])
	}
	return out
}

// Rules returns the discovery roots and patterns from the last good load.
func (r *Registry) Rules() DiscoveryRules {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rules
}

// Path returns the watched file path, empty when the registry is disabled.
func (r *Registry) Path() string { return r.path }

// Close stops the watcher. Safe to call more than once.
func (r *Registry) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		if r.watcher != nil {
			err = r.watcher.Close()
		}
	})
	return err
}

func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read interpreter registry: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse interpreter registry: %w", err)
	}

	specs := make(map[string]Spec, len(file.Interpreters))
	order := make([]string, 0, len(file.Interpreters))
	for _, spec := range file.Interpreters {
		if spec.Name == "" || spec.Cmd == "" {
			r.logger.Warn("interpreter entry missing name or cmd, skipping",
				zap.String("name", spec.Name),
				zap.String("cmd", spec.Cmd))
			continue
		}
		if _, dup := specs[spec.Name]; dup {
			r.logger.Warn("duplicate interpreter entry, keeping first",
				zap.String("name", spec.Name))
			continue
		}
		specs[spec.Name] = spec
		order = append(order, spec.Name)
	}

	r.mu.Lock()
	r.specs = specs
	r.order = order
	r.rules = file.Discovery
	r.mu.Unlock()

	r.logger.Info("interpreter registry loaded",
		zap.String("path", r.path),
		zap.Int("interpreters", len(order)))
	return nil
}

func (r *Registry) watch() {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != r.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := r.reload(); err != nil {
					r.logger.Warn("interpreter registry reload failed",
						zap.String("path", r.path),
						zap.Error(err))
				}
			})
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("interpreter registry watcher error", zap.Error(err))
		case <-r.done:
			return
		}
	}
}
