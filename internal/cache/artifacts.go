package cache

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// executableMode is the mode of published executables
const executableMode fs.FileMode = 0o755

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}

	defer srcFile.Close()

	// Create parent directory if needed
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, executableMode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}

	// Flush before the file becomes visible under its final name
	if err := dstFile.Sync(); err != nil {
		dstFile.Close()
		return err
	}

	return dstFile.Close()
}

// stage moves built into the cache's scratch area so it can be renamed into
// place. A rename suffices when built is on the same filesystem; otherwise the
// file is copied.
func (c *Cache) stage(built string) (string, func(), error) {
	dir, cleanup, err := c.TempDir()
	if err != nil {
		return "", nil, err
	}

	staged := filepath.Join(dir, "exe")
	if err := os.Rename(built, staged); err == nil {
		return staged, cleanup, nil
	}

	if err := copyFile(built, staged); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to stage executable: %w", err)
	}

	return staged, cleanup, nil
}

// inTempDir reports whether path lies under the cache's scratch area
func (c *Cache) inTempDir(path string) bool {
	rel, err := filepath.Rel(filepath.Join(c.root, tmpDir), path)
	if err != nil {
		return false
	}

	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// dirSize walks dir and returns the number and total size of regular files
func dirSize(dir string) (int, int64) {
	var count int
	var total int64

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				count++
				total += info.Size()
			}
		}

		return nil
	})

	return count, total
}
