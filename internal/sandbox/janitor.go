package sandbox

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rama-kairi/zencube/internal/errors"
	"github.com/rama-kairi/zencube/internal/logger"
)

// Janitor removes session-owned artifacts after teardown. Every path is
// checked against the canonicalized sandbox root first; anything resolving
// outside is refused, including symlink escapes. Removal failures are logged
// and swallowed so cleanup never blocks session completion.
type Janitor struct {
	root   string
	logger *logger.Logger
}

// NewJanitor canonicalizes the sandbox root, creating it if needed
func NewJanitor(root string, log *logger.Logger) (*Janitor, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.FileSystemError(err, root)
	}

	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, errors.FileSystemError(err, root)
	}

	abs, err := filepath.Abs(resolved)
	if err != nil {
		return nil, errors.FileSystemError(err, root)
	}

	return &Janitor{root: abs, logger: log}, nil
}

// Root returns the canonicalized sandbox root
func (j *Janitor) Root() string {
	return j.root
}

// Contains reports whether path resolves to a location strictly inside the
// sandbox root. Symlinks are resolved before comparing, so a link pointing
// outside the root is rejected no matter what its own path looks like. The
// root itself is rejected too: artifacts are nested under it, and accepting
// it would let a bad cleanup entry remove the whole sandbox area.
func (j *Janitor) Contains(path string) bool {
	resolved, err := canonicalize(path)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(j.root, resolved)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// canonicalize resolves symlinks for path. When the path itself no longer
// exists, the deepest existing ancestor is resolved and the remainder
// reattached, so already-removed artifacts still get a meaningful answer.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	remainder := ""
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

// Remove deletes one artifact if it is inside the sandbox root. Paths outside
// the root are refused and logged, matching the containment invariant.
func (j *Janitor) Remove(path string) {
	if path == "" {
		return
	}

	if !j.Contains(path) {
		j.logger.Warn("Refusing to remove path outside sandbox root", map[string]interface{}{
			"path": path,
			"root": j.root,
		})
		return
	}

	if err := os.RemoveAll(path); err != nil {
		cleanupErr := errors.CleanupFailed(err, path)
		j.logger.Error("Artifact removal failed", cleanupErr, map[string]interface{}{
			"path": path,
		})
	}
}

// CleanupSession removes every artifact a finished session owned
func (j *Janitor) CleanupSession(sessionID string, paths []string) {
	for _, path := range paths {
		j.Remove(path)
	}
	if len(paths) > 0 {
		j.logger.Debug("Session artifacts cleaned", map[string]interface{}{
			"session_id": sessionID,
			"count":      len(paths),
		})
	}
}
