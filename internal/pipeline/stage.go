package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// stage collects a run's artifacts in a hidden sibling of the output
// directory. Nothing appears under the final path until commit.
type stage struct {
	dir   string
	final string
	names []string
}

func newStage(final string) (*stage, error) {
	parent := filepath.Dir(final)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	dir, err := os.MkdirTemp(parent, ".audinv-staging-*")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	return &stage{dir: dir, final: final}, nil
}

// path registers name and returns where to write it.
func (s *stage) path(name string) string {
	s.names = append(s.names, name)
	return filepath.Join(s.dir, name)
}

// commit publishes the staged files and returns their final paths. A new
// output directory is renamed into place in one step; into an existing one
// the files move individually.
func (s *stage) commit() ([]string, error) {
	out := make([]string, len(s.names))
	for i, n := range s.names {
		out[i] = filepath.Join(s.final, n)
	}
	if _, err := os.Stat(s.final); errors.Is(err, fs.ErrNotExist) {
		if err := os.Rename(s.dir, s.final); err != nil {
			return nil, fmt.Errorf("publish %s: %w", s.final, err)
		}
		return out, nil
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.final, err)
	}

	for i, n := range s.names {
		if err := os.Rename(filepath.Join(s.dir, n), out[i]); err != nil {
			for _, done := range out[:i] {
				_ = os.Remove(done)
			}
			return nil, fmt.Errorf("publish %s: %w", out[i], err)
		}
	}
	if err := os.Remove(s.dir); err != nil {
		return nil, fmt.Errorf("remove staging directory: %w", err)
	}
	return out, nil
}

func (s *stage) discard() {
	_ = os.RemoveAll(s.dir)
}
