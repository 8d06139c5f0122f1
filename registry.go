package riglog

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Station-Manager/errors"
	"github.com/rs/zerolog"
)

const (
	sinkTypeConsole = "console"
	sinkTypeFile    = "file"
	sinkTypeServer  = "server"
	sinkTypeEmail   = "email"
)

// sinkKind binds a handler type to its constructor. probe, when set, runs
// during Setup and a failure drops the handler; check validates options the
// struct tags cannot express.
type sinkKind struct {
	build func(s *Service, name string, hc HandlerConfig, cfg *Config) (Sink, error)
	probe func(ctx context.Context, s *Service, hc HandlerConfig, cfg *Config) error
	check func(hc HandlerConfig) error
}

var sinkRegistry = map[string]sinkKind{
	sinkTypeConsole: {build: buildConsoleSink},
	sinkTypeFile:    {build: buildFileSink, probe: probeFileSink, check: checkFileSink},
	sinkTypeServer:  {build: buildServerSink, probe: probeServerSink},
	sinkTypeEmail:   {build: buildEmailSink, probe: probeEmailSink, check: checkEmailSink},
}

// handlerLevel parses the configured level or returns fallback.
func handlerLevel(hc HandlerConfig, fallback zerolog.Level) zerolog.Level {
	return mustParseLevel(hc.Level, fallback)
}

func buildConsoleSink(s *Service, name string, hc HandlerConfig, cfg *Config) (Sink, error) {
	return NewConsoleSink(ConsoleOptions{
		Name:      name,
		Out:       s.stdout(),
		Level:     handlerLevel(hc, zerolog.DebugLevel),
		Formatter: s.formatter(cfg, hc.Formatter, "simple"),
	}), nil
}

func fileOptions(s *Service, name string, hc HandlerConfig, cfg *Config) FileOptions {
	maxBytes := hc.MaxBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxBytes
	}
	mode := hc.Mode
	if mode == emptyString {
		mode = defaultFileMode
	}
	rotation := hc.Rotation
	if rotation == emptyString {
		rotation = defaultRotation
	}
	encoding := hc.Encoding
	if encoding == emptyString {
		encoding = defaultEncoding
	}
	backups := DefaultBackupCount
	if hc.BackupCount != nil {
		backups = *hc.BackupCount
	}
	return FileOptions{
		Name:        name,
		LogsDir:     s.logsDir(cfg, hc.LogsDir),
		Filename:    hc.Filename,
		Mode:        mode,
		MaxBytes:    maxBytes,
		BackupCount: backups,
		Encoding:    encoding,
		Delay:       boolOr(hc.Delay, true),
		Level:       handlerLevel(hc, zerolog.InfoLevel),
		Formatter:   s.formatter(cfg, hc.Formatter, "detailed"),
		Rotation:    rotation,
		MaxAgeDays:  hc.MaxAgeDays,
		Compress:    hc.Compress,
		Enrichment:  s.enrichment,
	}
}

func buildFileSink(s *Service, name string, hc HandlerConfig, cfg *Config) (Sink, error) {
	return NewFileSink(fileOptions(s, name, hc, cfg))
}

// probeFileSink checks that the target directory can be created and written.
func probeFileSink(_ context.Context, s *Service, hc HandlerConfig, cfg *Config) error {
	const op errors.Op = "riglog.probeFileSink"
	path, err := fileSinkPath(fileOptions(s, emptyString, hc, cfg))
	if err != nil {
		return errors.New(op).Err(err).Msg(errMsgUnreachable)
	}
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.New(op).Err(err).Msg(errMsgUnreachable)
	}
	f, err := os.CreateTemp(dir, ".riglog-probe-*")
	if err != nil {
		return errors.New(op).Err(err).Msg(errMsgUnreachable)
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return nil
}

func checkFileSink(hc HandlerConfig) error {
	const op errors.Op = "riglog.checkFileSink"
	if _, err := lookupEncoder(hc.Encoding); err != nil {
		return errors.New(op).Err(err).Msg(errMsgEncoding)
	}
	return nil
}

func serverAddr(hc HandlerConfig) (string, int) {
	host, port := hc.Host, hc.Port
	if host == emptyString {
		host = DefaultServerHost
	}
	if port == 0 {
		port = DefaultServerPort
	}
	return host, port
}

func buildServerSink(s *Service, name string, hc HandlerConfig, cfg *Config) (Sink, error) {
	return s.buildRemoteSink(name, hc, cfg, emptyString)
}

func (s *Service) buildRemoteSink(name string, hc HandlerConfig, cfg *Config, project string) (*RemoteSink, error) {
	host, port := serverAddr(hc)
	return NewRemoteSink(RemoteOptions{
		Name:       name,
		Host:       host,
		Port:       port,
		Level:      handlerLevel(hc, zerolog.ErrorLevel),
		Formatter:  s.formatter(cfg, hc.Formatter, DefaultServerHandler),
		Backup:     s.sharedBackup(cfg),
		Enrichment: s.enrichment,
		Project:    project,
	})
}

func probeServerSink(ctx context.Context, _ *Service, hc HandlerConfig, _ *Config) error {
	host, port := serverAddr(hc)
	return probeTCP(ctx, net.JoinHostPort(host, strconv.Itoa(port)))
}

func buildEmailSink(s *Service, name string, hc HandlerConfig, cfg *Config) (Sink, error) {
	return NewEmailSink(EmailOptions{
		Name:        name,
		ToAddrs:     hc.ToAddrs,
		MailHost:    hc.MailHost,
		FromAddr:    hc.FromAddr,
		Subject:     hc.Subject,
		Credentials: hc.Credentials,
		Secure:      hc.Secure,
		Timeout:     time.Duration(hc.Timeout * float64(time.Second)),
		Level:       handlerLevel(hc, zerolog.InfoLevel),
		Formatter:   s.formatter(cfg, hc.Formatter, "email"),
		Enrichment:  s.enrichment,
	})
}

func probeEmailSink(ctx context.Context, _ *Service, hc HandlerConfig, _ *Config) error {
	host := hc.MailHost
	if host == emptyString {
		host = DefaultMailHost
	}
	return probeTCP(ctx, mailAddr(host))
}

func checkEmailSink(hc HandlerConfig) error {
	const op errors.Op = "riglog.checkEmailSink"
	if len(hc.ToAddrs) == 0 {
		return errors.New(op).Msg(errMsgNoRecipients)
	}
	return nil
}

func probeTCP(ctx context.Context, addr string) error {
	const op errors.Op = "riglog.probeTCP"
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.New(op).Err(err).Msg(errMsgUnreachable)
	}
	return conn.Close()
}
