package riglog

import (
	"fmt"
	"os"
	"path/filepath"
)

// rotatingFile is an io.WriteCloser that rolls path over to path.1, path.2
// ... once the next write would take it to maxBytes or beyond. At most backups
// generations are kept; with backups == 0 the file is never rolled over.
// It is not safe for concurrent use; owners serialize writes.
type rotatingFile struct {
	path     string
	maxBytes int64
	backups  int
	truncate bool
	// shared means other processes write and rotate the same path, so the
	// handle is checked against the path before every write.
	shared bool

	file      *os.File
	size      int64
	rotations int
}

// open creates the parent directory unless the file is shared; a shared path
// lives on a mount that must already exist.
func (r *rotatingFile) open() error {
	if !r.shared {
		if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
			return err
		}
	}
	flag := os.O_CREATE | os.O_WRONLY
	if r.truncate {
		flag |= os.O_TRUNC
		// only the first open truncates
		r.truncate = false
	} else {
		flag |= os.O_APPEND
	}
	f, err := os.OpenFile(r.path, flag, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	r.file = f
	r.size = info.Size()
	return nil
}

// reopenIfMoved re-opens the path when another process renamed the file we
// hold, and refreshes the size the other writers produced.
func (r *rotatingFile) reopenIfMoved() error {
	held, err := r.file.Stat()
	if err != nil {
		return err
	}
	current, err := os.Stat(r.path)
	if err == nil && os.SameFile(held, current) {
		r.size = current.Size()
		return nil
	}
	_ = r.file.Close()
	r.file = nil
	return r.open()
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	} else if r.shared {
		if err := r.reopenIfMoved(); err != nil {
			return 0, err
		}
	}
	if r.shouldRotate(int64(len(p))) {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *rotatingFile) shouldRotate(next int64) bool {
	return r.maxBytes > 0 && r.backups > 0 && r.size > 0 && r.size+next >= r.maxBytes
}

func (r *rotatingFile) rotate() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return err
		}
		r.file = nil
	}

	// find the oldest generation present, capped at the retention bound
	last := 0
	for last < r.backups {
		if _, err := os.Stat(r.generation(last + 1)); err != nil {
			break
		}
		last++
	}
	if last == r.backups {
		if err := os.Remove(r.generation(last)); err != nil && !os.IsNotExist(err) {
			return err
		}
		last--
	}
	for i := last; i >= 1; i-- {
		if err := os.Rename(r.generation(i), r.generation(i+1)); err != nil {
			return err
		}
	}
	if err := os.Rename(r.path, r.generation(1)); err != nil && !os.IsNotExist(err) {
		return err
	}
	r.rotations++
	return r.open()
}

func (r *rotatingFile) generation(n int) string {
	return fmt.Sprintf("%s.%d", r.path, n)
}

func (r *rotatingFile) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
