package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/OpenGG/session-switch/internal/ssw/domain"
)

// Storage provides low-level file and directory operations with security validations.
//
// Copy, rename and remove run under a deadline: the calling context, narrowed by
// the configured timeout. A call that outlives its deadline returns an error matching
// domain.ErrIOFailure while the underlying syscall finishes in the background.
type Storage struct {
	fs      afero.Fs
	timeout time.Duration
}

// New creates a new Storage instance.
func New(fs afero.Fs) *Storage {
	return &Storage{fs: fs}
}

// FileSystem returns the underlying filesystem.
func (s *Storage) FileSystem() afero.Fs {
	return s.fs
}

// SetTimeout bounds every copy, rename and remove. Zero means only the caller's context applies.
func (s *Storage) SetTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.timeout = d
}

// ValidatePathSafety checks that the path is not a symlink, preventing symlink attacks.
// It returns nil if the path doesn't exist or is a regular file/directory.
func (s *Storage) ValidatePathSafety(path string) error {
	if lstater, ok := s.fs.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("failed to check path: %w", err)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("refusing to operate on symlink: %s", path)
		}
	}
	// in-memory filesystems don't support symlinks
	return nil
}

// CopyDir recursively copies the directory tree at src into dst, creating dst.
// Regular files keep their permission bits. Symlinks are recreated when the
// filesystem supports them and skipped otherwise.
func (s *Storage) CopyDir(ctx context.Context, src, dst string) error {
	return s.bounded(ctx, "copy directory", func() error {
		return s.copyDir(ctx, src, dst)
	})
}

// Rename moves oldPath to newPath.
func (s *Storage) Rename(ctx context.Context, oldPath, newPath string) error {
	return s.bounded(ctx, "rename", func() error {
		return s.fs.Rename(oldPath, newPath)
	})
}

// RemoveAll deletes path and everything below it. A missing path is not an error.
func (s *Storage) RemoveAll(ctx context.Context, path string) error {
	return s.bounded(ctx, "remove", func() error {
		return s.fs.RemoveAll(path)
	})
}

// DirSize returns the sum of regular file sizes below path.
func (s *Storage) DirSize(path string) (int64, error) {
	var total int64
	err := afero.Walk(s.fs, path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s: %w", path, err)
	}
	return total, nil
}

// ReadFile reads the entire file.
func (s *Storage) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(s.fs, path)
}

// WriteFile writes data to a file atomically with secure permissions.
func (s *Storage) WriteFile(path string, data []byte) error {
	if err := s.ValidatePathSafety(path); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		s.fs.Remove(tmp)
		return err
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

// DirExists checks if a path exists and is a directory.
func (s *Storage) DirExists(path string) (bool, error) {
	return afero.DirExists(s.fs, path)
}

// Stat returns file information.
func (s *Storage) Stat(path string) (os.FileInfo, error) {
	return s.fs.Stat(path)
}

// MkdirAll creates directory with secure permissions.
func (s *Storage) MkdirAll(path string) error {
	return s.fs.MkdirAll(path, 0o700)
}

// ReadDir reads directory contents.
func (s *Storage) ReadDir(path string) ([]os.FileInfo, error) {
	return afero.ReadDir(s.fs, path)
}

// Chtimes changes file access and modification times.
func (s *Storage) Chtimes(path string, atime, mtime time.Time) error {
	return s.fs.Chtimes(path, atime, mtime)
}

func (s *Storage) bounded(ctx context.Context, op string, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrIOFailure, op, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %s: %w", domain.ErrIOFailure, op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", domain.ErrIOFailure, op, ctx.Err())
	}
}

func (s *Storage) copyDir(ctx context.Context, src, dst string) error {
	info, err := s.fs.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source is not a directory: %s", src)
	}
	if err := s.fs.MkdirAll(dst, info.Mode().Perm()|0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	return afero.Walk(s.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		// stop early once the caller has given up
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			if err := s.fs.MkdirAll(target, info.Mode().Perm()|0o700); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
		case info.Mode()&os.ModeSymlink != 0:
			return s.copySymlink(path, target)
		case info.Mode().IsRegular():
			return s.copyFile(path, target, info.Mode().Perm())
		}
		return nil
	})
}

func (s *Storage) copySymlink(src, dst string) error {
	reader, okRead := s.fs.(afero.LinkReader)
	linker, okLink := s.fs.(afero.Linker)
	if !okRead || !okLink {
		return nil
	}
	target, err := reader.ReadlinkIfPossible(src)
	if err != nil {
		return fmt.Errorf("read link: %w", err)
	}
	return linker.SymlinkIfPossible(target, dst)
}

func (s *Storage) copyFile(src, dst string, perm os.FileMode) (err error) {
	if err := s.ValidatePathSafety(src); err != nil {
		return fmt.Errorf("validate source: %w", err)
	}
	if err := s.ValidatePathSafety(dst); err != nil {
		return fmt.Errorf("validate destination: %w", err)
	}

	source, err := s.fs.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() {
		if cerr := source.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close source: %w", cerr)
		}
	}()

	dir := filepath.Dir(dst)
	if err := s.fs.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	// Create temp file in same directory (enables atomic rename)
	tmp := dst + ".tmp"
	dest, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	_, copyErr := io.Copy(dest, source)
	closeErr := dest.Close()

	if copyErr != nil || closeErr != nil {
		s.fs.Remove(tmp)
		if copyErr != nil {
			return fmt.Errorf("copy data: %w", copyErr)
		}
		return fmt.Errorf("close temp file: %w", closeErr)
	}

	if err := s.fs.Rename(tmp, dst); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("atomic rename: %w", err)
	}

	return nil
}
