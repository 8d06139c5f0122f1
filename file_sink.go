package riglog

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Station-Manager/errors"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures a FileSink. Zero values take the package defaults
// except Delay, which callers set explicitly.
type FileOptions struct {
	Name string
	// LogsDir is created recursively if absent.
	LogsDir string
	// Filename overrides the <level>.log naming; relative names resolve
	// against LogsDir.
	Filename    string
	Mode        string
	MaxBytes    int64
	BackupCount int
	Encoding    string
	Delay       bool
	Level       zerolog.Level
	Formatter   Formatter
	// Rotation is "numbered" (default) or "timestamped".
	Rotation   string
	MaxAgeDays int
	Compress   bool

	Enrichment *Enrichment
	Project    string
}

// FileSink writes records to a size-rotated file named after its level.
type FileSink struct {
	sinkBase
	path    string
	out     io.WriteCloser
	encoder *encoding.Encoder
}

// NewFileSink resolves the file path, creates the directory and, unless
// Delay is set, opens the file.
func NewFileSink(opts FileOptions) (*FileSink, error) {
	const op errors.Op = "riglog.NewFileSink"
	if opts.Enrichment != nil && opts.Project != emptyString {
		opts.Enrichment.Install(opts.Project)
	}

	path, err := fileSinkPath(opts)
	if err != nil {
		return nil, errors.New(op).Err(err).Msg(errMsgLogsDir)
	}
	if err = os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, errors.New(op).Err(err).Msg(errMsgLogsDir)
	}
	enc, err := lookupEncoder(opts.Encoding)
	if err != nil {
		return nil, errors.New(op).Err(err).Msg(errMsgEncoding)
	}

	s := &FileSink{path: path, encoder: enc}
	s.init(opts.Name, opts.Level, opts.Formatter)

	if strings.EqualFold(opts.Rotation, timestampedRotation) {
		s.out = newTimestampedWriter(path, opts)
	} else {
		s.out = &rotatingFile{
			path:     path,
			maxBytes: opts.MaxBytes,
			backups:  opts.BackupCount,
			truncate: isTruncateMode(opts.Mode) && opts.MaxBytes <= 0,
		}
	}

	if !opts.Delay {
		if _, err = s.out.Write(nil); err != nil {
			return nil, errors.New(op).Err(err).Msg(errMsgLogsDir)
		}
	}
	return s, nil
}

func fileSinkPath(opts FileOptions) (string, error) {
	dir := opts.LogsDir
	if dir == emptyString {
		dir = DefaultLogsDir
	}
	name := opts.Filename
	if name == emptyString {
		name = LevelName(opts.Level) + ".log"
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(dir, name)
	}
	return filepath.Abs(name)
}

// newTimestampedWriter hands rotation to lumberjack, which names backups by
// timestamp and works in whole megabytes.
func newTimestampedWriter(path string, opts FileOptions) *lumberjack.Logger {
	const megabyte = 1024 * 1024
	maxMB := 0
	if opts.MaxBytes > 0 {
		maxMB = int((opts.MaxBytes + megabyte - 1) / megabyte)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxMB,
		MaxBackups: opts.BackupCount,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
		LocalTime:  true,
	}
}

func isTruncateMode(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "w", "truncate":
		return true
	}
	return false
}

// lookupEncoder returns nil for utf-8, which needs no transform.
func lookupEncoder(name string) (*encoding.Encoder, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case emptyString, "utf8", "utf-8":
		return nil, nil
	}
	enc, err := htmlindex.Get(n)
	if err != nil {
		return nil, err
	}
	if cn, _ := htmlindex.Name(enc); cn == defaultEncoding {
		return nil, nil
	}
	return enc.NewEncoder(), nil
}

// Path is the absolute path of the active file.
func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Accept(_ zerolog.Level, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(line)
}

func (s *FileSink) writeLocked(line []byte) error {
	p, err := s.format(line)
	if err != nil {
		return err
	}
	if s.encoder != nil {
		if p, err = s.encoder.Bytes(p); err != nil {
			return err
		}
	}
	_, err = s.out.Write(p)
	return err
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Close()
}

func (s *FileSink) isStream() {}
