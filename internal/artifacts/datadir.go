// Package artifacts manages the per-job host data directories that container
// jobs write their results into, and uploads those results to the server.
package artifacts

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultContainerPath is where the job's data directory is mounted inside the container.
const DefaultContainerPath = "/robot/job_data/"

// DataDir is the host root under which every job gets its own directory.
type DataDir struct {
	Root string
}

// NewDataDir returns a DataDir rooted at root (made absolute).
func NewDataDir(root string) (*DataDir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid data root %q: %w", root, err)
	}
	return &DataDir{Root: abs}, nil
}

// JobPath returns the host directory for jobID.
func (d *DataDir) JobPath(jobID string) string {
	return filepath.Join(d.Root, filepath.Base(jobID))
}

// Create makes the job's directory (and the root) and returns its path.
func (d *DataDir) Create(jobID string) (string, error) {
	path := d.JobPath(jobID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create job data dir: %w", err)
	}
	return path, nil
}

// Files lists every regular file under the job's directory, recursively, sorted.
func (d *DataDir) Files(jobID string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(d.JobPath(jobID), func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list job data: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Key derives the storage key of a file: its path relative to the data root,
// with forward slashes.
func (d *DataDir) Key(path string) (string, error) {
	rel, err := filepath.Rel(d.Root, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside data root %s", path, d.Root)
	}
	return filepath.ToSlash(rel), nil
}
