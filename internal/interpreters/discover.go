package interpreters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"
)

// maxCandidates caps a sweep so a pattern like **/python3* aimed at a
// huge root cannot return an unbounded listing.
const maxCandidates = 256

// errWalkDone aborts a walk once the candidate cap is reached.
var errWalkDone = errors.New("walk done")

// Candidate is an executable found under a discovery root that matched
// a registry pattern. It has not been probed.
type Candidate struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// Discover walks rules.Roots and returns executables whose root-relative
// path matches any of rules.Patterns. Roots that do not exist are
// skipped. Results are sorted by path and capped at maxCandidates.
func Discover(ctx context.Context, rules DiscoveryRules, logger *zap.Logger) []Candidate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(rules.Roots) == 0 || len(rules.Patterns) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		out  []Candidate
		seen = make(map[string]bool)
	)
	conf := fastwalk.Config{Follow: false}

	for _, root := range rules.Roots {
		root = expandHome(root)
		if _, err := os.Stat(root); err != nil {
			continue
		}

		// fastwalk fans the callback out across goroutines, so the
		// shared slice needs the mutex.
		err := fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err != nil || d.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(root, p)
			if relErr != nil {
				return nil
			}
			if !matchesAny(rules.Patterns, filepath.ToSlash(rel)) {
				return nil
			}
			if !isExecutable(d) {
				return nil
			}

			mu.Lock()
			if len(out) >= maxCandidates {
				mu.Unlock()
				return errWalkDone
			}
			if seen[p] {
				mu.Unlock()
				return nil
			}
			seen[p] = true
			out = append(out, Candidate{Path: p, Name: d.Name()})
			mu.Unlock()
			return nil
		})
		if err != nil && !errors.Is(err, errWalkDone) && !errors.Is(err, context.Canceled) {
			logger.Warn("interpreter discovery walk failed",
				zap.String("root", root),
				zap.Error(err))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Discover runs discovery with the registry's current rules.
func (r *Registry) Discover(ctx context.Context) []Candidate {
	return Discover(ctx, r.Rules(), r.logger)
}

func matchesAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func isExecutable(d os.DirEntry) bool {
	if !d.Type().IsRegular() {
		return false
	}
	info, err := d.Info()
	if err != nil {
		return false
	}
	return info.Mode()&0o111 != 0
}

func expandHome(root string) string {
	if root == "~" || strings.HasPrefix(root, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, root[1:])
		}
	}
	return root
}
