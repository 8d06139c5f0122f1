package riglog

import (
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// BackupOptions configures the local backup of the remote collector.
type BackupOptions struct {
	Name        string
	Filename    string
	MaxBytes    int64
	BackupCount int
	Formatter   Formatter
}

// BackupSink is a rotating file on a shared path that many processes append
// to. It accepts every level, opens eagerly and never reports write errors.
type BackupSink struct {
	sinkBase
	file *rotatingFile
	lock *flock.Flock
}

// NewBackupSink opens the file immediately. An open failure is not fatal:
// the sink retries on every write.
func NewBackupSink(opts BackupOptions) *BackupSink {
	backups := opts.BackupCount
	if backups <= 0 {
		backups = backupRetention
	}
	path := opts.Filename
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	s := &BackupSink{
		file: &rotatingFile{
			path:     path,
			maxBytes: opts.MaxBytes,
			backups:  backups,
			shared:   true,
		},
		lock: flock.New(path + ".lock"),
	}
	s.init(opts.Name, LevelNotSet, opts.Formatter)
	_ = s.withLock(func() error {
		_, err := s.file.Write(nil)
		return err
	})
	return s
}

// Path is the absolute path of the backup file.
func (s *BackupSink) Path() string { return s.file.path }

// Accept writes the record; errors are dropped since the share may be gone.
func (s *BackupSink) Accept(_ zerolog.Level, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.format(line)
	if err != nil {
		return nil
	}
	_ = s.withLock(func() error {
		_, werr := s.file.Write(p)
		return werr
	})
	return nil
}

// withLock holds the cross-process lock around fn. mu must be held or the
// sink must not be shared yet. A missing share directory fails here and is
// retried on the next write.
func (s *BackupSink) withLock(fn func() error) error {
	if err := s.lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func (s *BackupSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.file.Close()
	_ = s.lock.Close()
	return err
}

// SharedBackup hands one BackupSink to every RemoteSink of a Service. The
// sink is opened on the first Acquire and closed when the last holder
// releases it.
type SharedBackup struct {
	mu   sync.Mutex
	opts BackupOptions
	sink *BackupSink
	refs int
}

func NewSharedBackup(opts BackupOptions) *SharedBackup {
	return &SharedBackup{opts: opts}
}

// Acquire returns the shared sink, opening it if needed.
func (b *SharedBackup) Acquire() *BackupSink {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sink == nil {
		b.sink = NewBackupSink(b.opts)
	}
	b.refs++
	return b.sink
}

// Release drops one reference and closes the sink after the last one.
func (b *SharedBackup) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs == 0 {
		return nil
	}
	b.refs--
	if b.refs > 0 || b.sink == nil {
		return nil
	}
	err := b.sink.Close()
	b.sink = nil
	return err
}

// Refs reports the number of live holders.
func (b *SharedBackup) Refs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs
}
