package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// snapshotDir is the workspace-local directory snapshots live under. It is
// excluded from listings, snapshots, and rollbacks.
const snapshotDir = ".snapshots"

// ExecResult captures one command execution inside a workspace.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// WorkspaceHealth reports whether a workspace is usable. Reasons explains a
// failing check.
type WorkspaceHealth struct {
	OK      bool
	Reasons []string
}

// Workspace is the boundary to the environment where design artifacts and
// scaffolded code are materialized. Implementations must keep operations
// scoped to the identified workspace; a path escaping the workspace root is
// an error, never a silent write elsewhere.
type Workspace interface {
	// Create provisions a new workspace and returns its ID.
	Create(ctx context.Context, name string) (string, error)

	// WriteFile writes a file at a workspace-relative path, creating parent
	// directories as needed.
	WriteFile(ctx context.Context, id, path string, data []byte) error

	// ReadFile reads a file at a workspace-relative path.
	ReadFile(ctx context.Context, id, path string) ([]byte, error)

	// Exec runs a shell command inside the workspace. A non-zero exit is not
	// an error; it is reported through ExecResult.ExitCode.
	Exec(ctx context.Context, id, command string) (ExecResult, error)

	// Snapshot records the current workspace contents under a label.
	Snapshot(ctx context.Context, id, label string) error

	// Rollback restores the workspace contents from a labeled snapshot.
	Rollback(ctx context.Context, id, label string) error

	// Health checks that the workspace exists and is writable.
	Health(ctx context.Context, id string) (WorkspaceHealth, error)

	// ListFiles returns workspace-relative paths of all files, sorted.
	ListFiles(ctx context.Context, id string) ([]string, error)

	// Destroy removes the workspace and everything in it.
	Destroy(ctx context.Context, id string) error
}

// LocalWorkspace implements Workspace on the local filesystem. Each workspace
// is a directory under the configured root; snapshots are plain directory
// copies under .snapshots/<label>.
type LocalWorkspace struct {
	root string
}

// NewLocalWorkspace creates a LocalWorkspace rooted at dir, creating the
// directory if needed.
func NewLocalWorkspace(dir string) (*LocalWorkspace, error) {
	if dir == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &LocalWorkspace{root: abs}, nil
}

func (w *LocalWorkspace) Create(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = "ws"
	}
	id := name + "-" + uuid.NewString()[:8]
	if err := os.MkdirAll(filepath.Join(w.root, id), 0o755); err != nil {
		return "", fmt.Errorf("create workspace %s: %w", id, err)
	}
	return id, nil
}

// dir resolves a workspace ID to its directory, rejecting IDs that would
// escape the root.
func (w *LocalWorkspace) dir(id string) (string, error) {
	if id == "" || id != filepath.Base(id) {
		return "", fmt.Errorf("invalid workspace ID %q", id)
	}
	d := filepath.Join(w.root, id)
	if _, err := os.Stat(d); err != nil {
		return "", fmt.Errorf("workspace %s: %w", id, err)
	}
	return d, nil
}

// resolve joins a workspace-relative path onto the workspace directory,
// rejecting traversal outside it.
func (w *LocalWorkspace) resolve(id, path string) (string, error) {
	d, err := w.dir(id)
	if err != nil {
		return "", err
	}
	full := filepath.Join(d, filepath.FromSlash(path))
	if full != d && !strings.HasPrefix(full, d+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace %s", path, id)
	}
	return full, nil
}

func (w *LocalWorkspace) WriteFile(ctx context.Context, id, path string, data []byte) error {
	full, err := w.resolve(id, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (w *LocalWorkspace) ReadFile(ctx context.Context, id, path string) ([]byte, error) {
	full, err := w.resolve(id, path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (w *LocalWorkspace) Exec(ctx context.Context, id, command string) (ExecResult, error) {
	d, err := w.dir(id)
	if err != nil {
		return ExecResult{}, err
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = d
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, fmt.Errorf("exec in workspace %s: %w", id, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

func (w *LocalWorkspace) Snapshot(ctx context.Context, id, label string) error {
	d, err := w.dir(id)
	if err != nil {
		return err
	}
	if label == "" || label != filepath.Base(label) {
		return fmt.Errorf("invalid snapshot label %q", label)
	}
	dst := filepath.Join(d, snapshotDir, label)
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return copyTree(d, dst)
}

func (w *LocalWorkspace) Rollback(ctx context.Context, id, label string) error {
	d, err := w.dir(id)
	if err != nil {
		return err
	}
	src := filepath.Join(d, snapshotDir, label)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("snapshot %q of workspace %s: %w", label, id, err)
	}

	// Clear current contents except snapshots, then restore.
	entries, err := os.ReadDir(d)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Name() == snapshotDir {
			continue
		}
		if err := os.RemoveAll(filepath.Join(d, entry.Name())); err != nil {
			return err
		}
	}
	return copyTree(src, d)
}

func (w *LocalWorkspace) Health(ctx context.Context, id string) (WorkspaceHealth, error) {
	d, err := w.dir(id)
	if err != nil {
		return WorkspaceHealth{Reasons: []string{err.Error()}}, nil
	}

	probe := filepath.Join(d, ".healthprobe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return WorkspaceHealth{Reasons: []string{"not writable: " + err.Error()}}, nil
	}
	if err := os.Remove(probe); err != nil {
		return WorkspaceHealth{Reasons: []string{"probe cleanup failed: " + err.Error()}}, nil
	}
	return WorkspaceHealth{OK: true}, nil
}

func (w *LocalWorkspace) ListFiles(ctx context.Context, id string) ([]string, error) {
	d, err := w.dir(id)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(d, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if entry.Name() == snapshotDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(d, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (w *LocalWorkspace) Destroy(ctx context.Context, id string) error {
	d, err := w.dir(id)
	if err != nil {
		return err
	}
	return os.RemoveAll(d)
}

// copyTree copies src into dst recursively, skipping the snapshot directory.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if entry.IsDir() && entry.Name() == snapshotDir {
			return filepath.SkipDir
		}
		target := filepath.Join(dst, rel)
		if entry.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
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
