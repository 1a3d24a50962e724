package artifacts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/wckdouglas/rodeo/internal/infrastructure/monitoring"
	"github.com/wckdouglas/rodeo/internal/shared/errs"
	"github.com/wckdouglas/rodeo/internal/shared/utils"
)

const (
	// KeyPrefix marks store-issued route keys so rewritten event fields
	// can be told apart from raw payloads.
	KeyPrefix = "art_"

	keyRandLen = 21
)

// Route is one immutable key to file mapping with eagerly captured metadata.
type Route struct {
	Key      string
	Path     string
	Size     int64
	Checksum string
	MIME     string
	AddedAt  time.Time
}

// Store maps route keys to files backing transformed kernel events.
// The table is append-only: a registered key stays resolvable until the
// process exits, even after promotion. Keys are never reassigned to a
// different file.
type Store struct {
	mu     sync.RWMutex
	routes map[string]Route

	dir       string
	hasher    *utils.Hasher
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

// New creates a store writing artifact files under dir. An empty dir
// falls back to a fresh directory beneath the OS temp root.
func New(dir string, logger *zap.Logger, metrics *monitoring.Metrics) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		d, err := os.MkdirTemp("", "rodeo-artifacts-")
		if err != nil {
			return nil, errs.Constructionf("create artifact dir: %v", err)
		}
		dir = d
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Constructionf("create artifact dir %s: %v", dir, err)
	}

	return &Store{
		routes:    make(map[string]Route),
		dir:       dir,
		hasher:    utils.DefaultHasher(),
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Dir returns the directory new artifact files are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Len returns the number of registered routes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.routes)
}

// CreateTemp opens a fresh file inside the store directory. The pattern
// follows os.CreateTemp, e.g. "plot-*.png".
func (s *Store) CreateTemp(pattern string) (*os.File, error) {
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create artifact file: %w", err)
	}
	return f, nil
}

// AddRoute registers path under suggested when it is a well-formed,
// unused route key, and derives a fresh key otherwise. Key collisions
// re-derive rather than overwrite, so an existing route never changes
// which file it points at.
func (s *Store) AddRoute(path, suggested string) (string, error) {
	if path == "" {
		return "", errs.InvalidArgumentf("artifact path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", errs.InvalidArgumentf("artifact file %s: %v", path, err)
	}

	checksum, err := s.hasher.HashFile(path)
	if err != nil {
		s.logger.Warn("artifact checksum failed", zap.String("path", path), zap.Error(err))
		checksum = ""
	}
	mime := ""
	if mtype, err := mimetype.DetectFile(path); err == nil {
		mime = mtype.String()
	}

	s.mu.Lock()
	key := suggested
	if !IsRouteKey(key) {
		key = newKey()
	}
	for {
		if _, exists := s.routes[key]; !exists {
			break
		}
		key = newKey()
	}
	s.routes[key] = Route{
		Key:      key,
		Path:     path,
		Size:     info.Size(),
		Checksum: checksum,
		MIME:     mime,
		AddedAt:  time.Now(),
	}
	s.mu.Unlock()

	s.logger.Debug("artifact route added",
		zap.String("key", key),
		zap.String("path", path),
		zap.String("mime", mime),
		zap.Int64("size", info.Size()))
	return key, nil
}

// Resolve returns the backing file path for key.
func (s *Store) Resolve(key string) (string, error) {
	s.mu.RLock()
	r, ok := s.routes[key]
	s.mu.RUnlock()
	if !ok {
		return "", errs.NotFoundf("artifact route %s", key)
	}
	return r.Path, nil
}

// Lookup returns the full route record for key.
func (s *Store) Lookup(key string) (Route, error) {
	s.mu.RLock()
	r, ok := s.routes[key]
	s.mu.RUnlock()
	if !ok {
		return Route{}, errs.NotFoundf("artifact route %s", key)
	}
	return r, nil
}

// Promote copies the artifact behind key to dest, creating parent
// directories as needed. The route stays registered afterwards.
func (s *Store) Promote(key, dest string) error {
	timer := monitoring.NewTimer(s.metrics, "artifacts", "promote")
	r, err := s.Lookup(key)
	if err != nil {
		timer.Stop("not_found")
		return err
	}
	if dest == "" {
		timer.Stop("invalid")
		return errs.InvalidArgumentf("destination path required")
	}
	if err := copyFile(r.Path, dest); err != nil {
		timer.Stop("error")
		return fmt.Errorf("promote %s: %w", key, err)
	}
	timer.Stop("ok")

	s.logger.Info("artifact promoted",
		zap.String("key", key),
		zap.String("dest", dest),
		zap.Int64("size", r.Size))
	return nil
}

// IsRouteKey reports whether v has the shape of a store-issued route key.
func IsRouteKey(v string) bool {
	if len(v) != len(KeyPrefix)+keyRandLen || !strings.HasPrefix(v, KeyPrefix) {
		return false
	}
	for _, c := range v[len(KeyPrefix):] {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

func newKey() string {
	return KeyPrefix + gonanoid.Must(keyRandLen)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
