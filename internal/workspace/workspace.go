// Package workspace manages the per-session directory tree: the
// orchestrator worklog, per-agent directories, and the shared artifacts directory, plus
// the path-containment checks every tool must pass before touching disk.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/deepresearch/engine/internal/toolerr"
)

// Manager creates and guards session workspaces rooted under RootDir.
type Manager struct {
	RootDir string
}

// New returns a Manager rooted at root. The directory is created lazily,
// per session, not eagerly here.
func New(root string) *Manager {
	return &Manager{RootDir: root}
}

// SessionDir returns reports/<sessionId>.
func (m *Manager) SessionDir(sessionID string) string {
	return filepath.Join(m.RootDir, sessionID)
}

// AgentDir returns reports/<sessionId>/agents/<agentId>.
func (m *Manager) AgentDir(sessionID, agentID string) string {
	return filepath.Join(m.SessionDir(sessionID), "agents", agentID)
}

// ArtifactsDir returns reports/<sessionId>/artifacts/<agentId>.
func (m *Manager) ArtifactsDir(sessionID, agentID string) string {
	return filepath.Join(m.SessionDir(sessionID), "artifacts", agentID)
}

// CreateSession lays out the directory tree for a new session:
// orchestrator_worklog.md at the session root and an empty artifacts
// directory. No plan file is written.
func (m *Manager) CreateSession(sessionID string) error {
	dir := m.SessionDir(sessionID)
	if err := os.MkdirAll(filepath.Join(dir, "artifacts"), 0o755); err != nil {
		return fmt.Errorf("workspace: create session dir: %w", err)
	}
	worklog := filepath.Join(dir, "orchestrator_worklog.md")
	if _, err := os.Stat(worklog); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(worklog, []byte("# Orchestrator worklog\n\n"), 0o644); err != nil {
			return fmt.Errorf("workspace: seed worklog: %w", err)
		}
	}
	return nil
}

// CreateAgent lays out an agent's working directory: worklog.md,
// results.md (seeded with a placeholder header), and charts/.
func (m *Manager) CreateAgent(sessionID, agentID string) error {
	dir := m.AgentDir(sessionID, agentID)
	if err := os.MkdirAll(filepath.Join(dir, "charts"), 0o755); err != nil {
		return fmt.Errorf("workspace: create agent dir: %w", err)
	}
	if err := os.MkdirAll(m.ArtifactsDir(sessionID, agentID), 0o755); err != nil {
		return fmt.Errorf("workspace: create artifacts dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "worklog.md"), []byte("# Agent worklog\n\n"), 0o644); err != nil {
		return fmt.Errorf("workspace: seed worklog: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "results.md"), []byte(PlaceholderResultsHeader), 0o644); err != nil {
		return fmt.Errorf("workspace: seed results: %w", err)
	}
	return nil
}

// PlaceholderResultsHeader is the seed content of every agent's results.md
// before it writes anything of substance. The sub-agent's validation gate
// treats a results file containing only this header (or fewer than 100
// characters beyond it) as invalid output.
const PlaceholderResultsHeader = "# Results\n\n"

// Resolve joins base and relativePath, canonicalises the result (refusing
// symlink escapes), and verifies it is a descendant of base. It returns
// toolerr.FileAccessDenied on any violation — the only error variant this
// function produces, so callers can surface it to the LLM directly.
func Resolve(base, relativePath string) (string, error) {
	base = filepath.Clean(base)
	joined := filepath.Join(base, relativePath)
	if rel, err := filepath.Rel(base, joined); err != nil || rel == ".." || hasDotDotPrefix(rel) {
		return "", toolerr.New(toolerr.FileAccessDenied, "path escapes the allowed directory", "use a path under the session or agent directory")
	}

	canonicalBase, err := canonicalize(base)
	if err != nil {
		// base may not exist yet (e.g. first write); fall back to the
		// cleaned, non-symlink-resolved base.
		canonicalBase = base
	}
	canonicalJoined, err := canonicalizeClosest(joined)
	if err != nil {
		return "", toolerr.New(toolerr.FileAccessDenied, "unable to resolve path", "use a path under the session or agent directory")
	}
	if rel, err := filepath.Rel(canonicalBase, canonicalJoined); err != nil || rel == ".." || hasDotDotPrefix(rel) {
		return "", toolerr.New(toolerr.FileAccessDenied, "path escapes the allowed directory via a symlink", "use a path under the session or agent directory")
	}
	return joined, nil
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

func canonicalize(path string) (string, error) {
	return filepath.EvalSymlinks(path)
}

// canonicalizeClosest resolves symlinks for the longest existing prefix of
// path, then re-joins the remaining (not-yet-created) components, so that a
// path to a file that doesn't exist yet can still be containment-checked.
func canonicalizeClosest(path string) (string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return canonicalizeClosest(dir)
		}
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}

// CopyArtifact atomically copies src into destDir/name: it writes to a
// temp file in destDir and renames it into place, so a partial copy is
// never visible under the final name.
func CopyArtifact(src, destDir, name string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(destDir, ".tmp-"+name+"-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(destDir, name))
}

// ScheduleCleanup removes the session directory after delay, unless
// cancelled via the returned stop func.
func (m *Manager) ScheduleCleanup(sessionID string, delay time.Duration) (stop func()) {
	timer := time.AfterFunc(delay, func() {
		_ = os.RemoveAll(m.SessionDir(sessionID))
	})
	return func() { timer.Stop() }
}
