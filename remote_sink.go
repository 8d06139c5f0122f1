package riglog

import (
	"net"
	"strconv"
	"time"

	"github.com/Station-Manager/errors"
	"github.com/rs/zerolog"
)

// RemoteOptions configures a RemoteSink.
type RemoteOptions struct {
	Name        string
	Host        string
	Port        int
	Level       zerolog.Level
	Formatter   Formatter
	DialTimeout time.Duration
	// Backup receives every accepted record; nil disables the fallback.
	Backup *SharedBackup

	Enrichment *Enrichment
	Project    string
}

// RemoteSink streams text lines to the log collector over TCP. Network
// failures never reach the caller; every accepted record is also written to
// the shared backup.
type RemoteSink struct {
	sinkBase
	host        string
	port        int
	dialTimeout time.Duration
	shared      *SharedBackup
	backup      *BackupSink

	conn       net.Conn
	retryAt    time.Time
	retryDelay time.Duration
	now        func() time.Time
}

// NewRemoteSink does not connect; the first accepted record does.
func NewRemoteSink(opts RemoteOptions) (*RemoteSink, error) {
	const op errors.Op = "riglog.NewRemoteSink"
	if opts.Host == emptyString || opts.Port <= 0 {
		return nil, errors.New(op).Msg(errMsgNoHost)
	}
	if opts.Enrichment != nil && opts.Project != emptyString {
		opts.Enrichment.Install(opts.Project)
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	s := &RemoteSink{
		host:        opts.Host,
		port:        opts.Port,
		dialTimeout: timeout,
		shared:      opts.Backup,
		now:         time.Now,
	}
	if s.shared != nil {
		s.backup = s.shared.Acquire()
	}
	s.init(opts.Name, opts.Level, opts.Formatter)
	return s, nil
}

func (s *RemoteSink) Host() string { return s.host }

func (s *RemoteSink) Port() int { return s.port }

// Addr is host:port of the collector.
func (s *RemoteSink) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Backup returns the shared backup sink, or nil while closed.
func (s *RemoteSink) Backup() *BackupSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backup
}

// Accept always returns nil. A closed sink reconnects and takes a new hold on
// the shared backup.
func (s *RemoteSink) Accept(level zerolog.Level, line []byte) error {
	s.mu.Lock()
	if p, err := s.format(line); err == nil {
		s.send(p)
	}
	if s.backup == nil && s.shared != nil {
		s.backup = s.shared.Acquire()
	}
	backup := s.backup
	s.mu.Unlock()

	if backup != nil {
		_ = backup.Accept(level, line)
	}
	return nil
}

// send must be called with mu held.
func (s *RemoteSink) send(p []byte) {
	if s.conn == nil && !s.connect() {
		return
	}
	_ = s.conn.SetWriteDeadline(s.now().Add(s.dialTimeout))
	if _, err := s.conn.Write(p); err != nil {
		_ = s.conn.Close()
		s.conn = nil
		s.scheduleRetry()
	}
}

// connect dials unless a previous failure put us in a back-off window.
func (s *RemoteSink) connect() bool {
	if !s.retryAt.IsZero() && s.now().Before(s.retryAt) {
		return false
	}
	conn, err := net.DialTimeout("tcp", s.Addr(), s.dialTimeout)
	if err != nil {
		s.scheduleRetry()
		return false
	}
	s.conn = conn
	s.retryAt = time.Time{}
	s.retryDelay = 0
	return true
}

func (s *RemoteSink) scheduleRetry() {
	if s.retryDelay == 0 {
		s.retryDelay = remoteRetryStart
	} else {
		s.retryDelay *= remoteRetryFactor
		if s.retryDelay > remoteRetryMax {
			s.retryDelay = remoteRetryMax
		}
	}
	s.retryAt = s.now().Add(s.retryDelay)
}

// Close drops the connection and releases the shared backup.
func (s *RemoteSink) Close() error {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	held := s.backup != nil
	s.backup = nil
	s.mu.Unlock()
	if s.shared != nil && held {
		return s.shared.Release()
	}
	return nil
}
