package riglog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	smerrors "github.com/Station-Manager/errors"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Service owns one logger tree with its sinks, record enrichment, the shared
// backup of the remote collector and the exit reporter. The exported fields
// must be set before first use.
type Service struct {
	// LogsDir is where file sinks without their own logs_dir write.
	LogsDir string
	// Stdout is the console sink stream, os.Stdout when nil.
	Stdout io.Writer
	// BackupFile overrides the configured path of the remote backup.
	BackupFile string
	// Store resolves remote configuration keys. When nil it is built from
	// the RIGLOG_CONFIG_STORE environment variable.
	Store ConfigStore
	// ErrorHandler receives emission errors that are not swallowed. The
	// default prints them to stderr.
	ErrorHandler func(error)
	// ProbeTimeout bounds each reachability check during Setup.
	ProbeTimeout time.Duration
	// ExitFunc ends the process after a signal report; os.Exit when nil.
	ExitFunc func(code int)

	initOnce    sync.Once
	initialized atomic.Bool

	// mu guards the logger registry and the shared backup.
	mu      sync.Mutex
	loggers map[string]*Logger
	root    *Logger
	backup  *SharedBackup

	// setupMu serializes operations that attach sinks.
	setupMu sync.Mutex
	config  *Config
	project string

	enrichment *Enrichment
	reporter   *ExitReporter
	hooks      *ShutdownHooks
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) init() {
	s.initOnce.Do(func() {
		s.loggers = make(map[string]*Logger)
		s.enrichment = NewEnrichment()
		s.project = defaultProjectName()
		s.enrichment.Install(s.project)
		s.config = DefaultConfig()
		s.config.withDefaults()
		s.hooks = NewShutdownHooks()
		s.reporter = newExitReporter(s, s.hooks)
		if s.Store == nil {
			s.Store = storeFromEnv()
		}
		s.root = newLogger(s, RootLoggerName, nil)
		s.root.SetLevel(mustParseLevel(s.config.Defaults.LoggerLevel, zerolog.DebugLevel))
		s.loggers[RootLoggerName] = s.root
		s.initialized.Store(true)
	})
}

// Enrichment exposes the record enrichment hook of this service.
func (s *Service) Enrichment() *Enrichment {
	s.init()
	return s.enrichment
}

// ExitReporter exposes the exit reporter of this service.
func (s *Service) ExitReporter() *ExitReporter {
	s.init()
	return s.reporter
}

// Root returns the root logger. On first use it attaches a warning file sink,
// a debug file sink and an info console sink named "console", arms the exit
// reporter and sets the root level from the defaults. Later calls only return
// the logger.
func (s *Service) Root() *Logger {
	s.init()
	s.setupMu.Lock()
	defer s.setupMu.Unlock()
	if s.root.HasSinks() {
		return s.root
	}

	cfg := s.config
	for _, level := range []zerolog.Level{zerolog.WarnLevel, zerolog.DebugLevel} {
		sink, err := NewFileSink(FileOptions{
			Name:        LevelName(level) + "_file",
			LogsDir:     s.logsDir(cfg, emptyString),
			MaxBytes:    DefaultMaxBytes,
			BackupCount: DefaultBackupCount,
			Delay:       true,
			Level:       level,
			Formatter:   s.formatter(cfg, "detailed", "detailed"),
		})
		if err != nil {
			s.diag().WarnWith().Err(err).Str("level", LevelName(level)).Msg("Skipped root file sink")
			continue
		}
		s.root.AddSink(sink)
	}
	s.root.AddSink(NewConsoleSink(ConsoleOptions{
		Name:      ConsoleSinkName,
		Out:       s.stdout(),
		Level:     zerolog.InfoLevel,
		Formatter: s.formatter(cfg, "simple", "simple"),
	}))
	s.reporter.armIfIdle(ExitPolicy{LogAtExit: true})
	s.root.SetLevel(mustParseLevel(cfg.Defaults.LoggerLevel, zerolog.DebugLevel))
	return s.root
}

// GetLogger returns the logger called name, creating it and its ancestors as
// needed. "" and "root" return Root(). A logger without sinks is reset to
// LevelNotSet so its records are filtered by its ancestors.
func (s *Service) GetLogger(name string) *Logger {
	if name == emptyString || name == RootLoggerName {
		return s.Root()
	}
	l := s.logger(name)
	if !l.HasSinks() {
		l.SetLevel(LevelNotSet)
	}
	return l
}

// logger looks a logger up without touching its level or sinks.
func (s *Service) logger(name string) *Logger {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggerLocked(name)
}

func (s *Service) loggerLocked(name string) *Logger {
	if name == emptyString {
		name = RootLoggerName
	}
	if l, ok := s.loggers[name]; ok {
		return l
	}
	parent := s.root
	if i := strings.LastIndex(name, "."); i > 0 {
		parent = s.loggerLocked(name[:i])
	}
	l := newLogger(s, name, parent)
	s.loggers[name] = l
	return l
}

// Web returns the collector logger with exactly one RemoteSink. The project
// of the first call wins.
func (s *Service) Web(project string) *Logger {
	s.init()
	s.setupMu.Lock()
	defer s.setupMu.Unlock()

	cfg := s.config
	l := s.logger(cfg.Defaults.ServerLoggerName)
	if l.HasSinks() {
		return l
	}
	hc, ok := cfg.Handlers[DefaultServerHandler]
	if !ok || hc.Type != sinkTypeServer {
		hc, ok = defaultConfig.Handlers[DefaultServerHandler]
		if !ok {
			hc = HandlerConfig{Type: sinkTypeServer}
		}
	}
	if project == emptyString {
		project = s.project
	}
	sink, err := s.buildRemoteSink(DefaultServerHandler, hc, cfg, project)
	if err != nil {
		s.diag().WarnWith().Err(err).Msg("Could not attach the log server sink")
		return l
	}
	l.AddSink(sink)
	l.SetLevel(mustParseLevel(cfg.Defaults.LoggerLevel, zerolog.DebugLevel))
	return l
}

// EmailOption adjusts Email.
type EmailOption func(*emailSettings)

type emailSettings struct {
	subject       string
	exceptionOnly bool
	rootLog       bool
}

// WithSubject sets the subject of every mail.
func WithSubject(subject string) EmailOption {
	return func(e *emailSettings) { e.subject = subject }
}

// ExceptionOnly mails the exit report only when the program ends abnormally.
func ExceptionOnly() EmailOption {
	return func(e *emailSettings) { e.exceptionOnly = true }
}

// WithoutRootLog stops the exit report from also being logged on root.
func WithoutRootLog() EmailOption {
	return func(e *emailSettings) { e.rootLog = false }
}

// Email returns the exit email logger with exactly one EmailSink and arms the
// exit reporter to mail through it. Repeat calls return the configured logger
// untouched.
func (s *Service) Email(addresses []string, opts ...EmailOption) (*Logger, error) {
	settings := emailSettings{subject: DefaultSubject, rootLog: true}
	for _, opt := range opts {
		opt(&settings)
	}

	s.init()
	s.setupMu.Lock()
	defer s.setupMu.Unlock()

	cfg := s.config
	name := cfg.Defaults.ExitEmailLoggerName
	l := s.logger(name)
	if l.HasSinks() {
		return l, nil
	}
	if err := s.configureEmailLogger(l, addresses, settings.subject, cfg); err != nil {
		return nil, err
	}
	policy := EmailOnExit
	if settings.exceptionOnly {
		policy = EmailOnError
	}
	s.reporter.Arm(ExitPolicy{Email: policy, EmailLogger: name, LogAtExit: settings.rootLog})
	return l, nil
}

// configureEmailLogger points the logger's email sink at addresses, adding
// one when the logger has none. setupMu must be held.
func (s *Service) configureEmailLogger(l *Logger, addresses []string, subject string, cfg *Config) error {
	const op smerrors.Op = "riglog.configureEmailLogger"
	if len(addresses) == 0 {
		return smerrors.New(op).Msg(errMsgNoRecipients)
	}
	for _, addr := range addresses {
		if err := validatorInstance().Var(addr, "required,email"); err != nil {
			return smerrors.New(op).Err(err).Msg(fmt.Sprintf("%s %q", errMsgConfigInvalid, addr))
		}
	}
	for _, sink := range l.Sinks() {
		if es, ok := sink.(*EmailSink); ok {
			es.SetToAddrs(addresses)
			return nil
		}
	}
	hc := HandlerConfig{Type: sinkTypeEmail, ToAddrs: addresses, Subject: subject}
	sink, err := buildEmailSink(s, DefaultEmailLogger, hc, cfg)
	if err != nil {
		return err
	}
	l.AddSink(sink)
	l.SetPropagate(false)
	return nil
}

// SetupOption adjusts Setup.
type SetupOption func(*setupSettings)

type setupSettings struct {
	ctx         context.Context
	config      *Config
	source      string
	project     string
	emails      []string
	emailAtExit EmailPolicy
	logAtExit   bool
}

// WithConfig uses an in-memory configuration.
func WithConfig(cfg *Config) SetupOption {
	return func(st *setupSettings) { st.config = cfg }
}

// WithConfigSource loads the configuration from a file path or, when no such
// file exists, from a key in the config store.
func WithConfigSource(source string) SetupOption {
	return func(st *setupSettings) { st.source = source }
}

// WithProjectName sets the project enrichment field.
func WithProjectName(project string) SetupOption {
	return func(st *setupSettings) { st.project = project }
}

// WithEmailAddress mails the exit report to addresses, overriding any
// recipients in the configuration.
func WithEmailAddress(addresses ...string) SetupOption {
	return func(st *setupSettings) { st.emails = addresses }
}

// WithEmailAtExit selects when the exit report is mailed.
func WithEmailAtExit(policy EmailPolicy) SetupOption {
	return func(st *setupSettings) { st.emailAtExit = policy }
}

// WithLogAtExit toggles the exit report on the root logger. It is on by
// default.
func WithLogAtExit(enabled bool) SetupOption {
	return func(st *setupSettings) { st.logAtExit = enabled }
}

// WithContext bounds remote config retrieval and reachability probes.
func WithContext(ctx context.Context) SetupOption {
	return func(st *setupSettings) { st.ctx = ctx }
}

// Setup configures the service in one step. Malformed configuration is
// returned as an error; sinks whose path or host is unreachable are dropped
// and logged at debug level on the "riglog" logger.
func (s *Service) Setup(opts ...SetupOption) error {
	st := setupSettings{ctx: context.Background(), logAtExit: true}
	for _, opt := range opts {
		opt(&st)
	}
	s.init()

	var cfg *Config
	if st.config != nil {
		cfg = st.config.Clone()
	} else {
		var err error
		if cfg, err = resolveConfig(st.ctx, st.source, s.Store); err != nil {
			return err
		}
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}
	cfg.withDefaults()
	active := cfg.Clone()
	removed := s.dropUnreachable(st.ctx, active)

	if st.project == emptyString {
		st.project = defaultProjectName()
	}

	s.setupMu.Lock()
	defer s.setupMu.Unlock()

	s.project = st.project
	s.enrichment.Install(st.project)
	s.config = cfg
	failed := s.applyConfig(active)
	removed = append(removed, failed...)

	if len(removed) > 0 {
		s.diag().DebugWith().Strs("handlers", removed).Msg("Removed handler(s) with inaccessible filepath or server")
	}

	emailLogger := cfg.ExitEmailLogger
	if emailLogger == emptyString {
		emailLogger = cfg.Defaults.ExitEmailLoggerName
	}
	policy := st.emailAtExit
	if len(st.emails) > 0 {
		if err := s.configureEmailLogger(s.logger(emailLogger), st.emails, DefaultSubject, cfg); err != nil {
			return err
		}
		s.diag().DebugWith().Str("logger", emailLogger).Strs("addresses", st.emails).Msg("Updated email address")
		if policy == EmailNever {
			policy = EmailOnExit
		}
	}
	s.reporter.Arm(ExitPolicy{Email: policy, EmailLogger: emailLogger, LogAtExit: st.logAtExit})
	s.root.SetLevel(mustParseLevel(cfg.Defaults.LoggerLevel, zerolog.DebugLevel))
	s.diag().DebugWith().Msg("riglog setup complete")
	return nil
}

// dropUnreachable removes handlers whose target fails its probe, along with
// every logger reference to them, and returns their names.
func (s *Service) dropUnreachable(ctx context.Context, cfg *Config) []string {
	var removed []string
	for _, name := range sortedKeys(cfg.Handlers) {
		hc := cfg.Handlers[name]
		kind := sinkRegistry[hc.Type]
		if kind.probe == nil {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, s.probeTimeout())
		err := kind.probe(pctx, s, hc, cfg)
		cancel()
		if err != nil {
			delete(cfg.Handlers, name)
			removed = append(removed, name)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	prune := func(lc LoggerConfig) LoggerConfig {
		kept := lc.Handlers[:0:0]
		for _, h := range lc.Handlers {
			if _, ok := cfg.Handlers[h]; ok {
				kept = append(kept, h)
			}
		}
		lc.Handlers = kept
		return lc
	}
	for name, lc := range cfg.Loggers {
		cfg.Loggers[name] = prune(lc)
	}
	if cfg.Root != nil {
		r := prune(*cfg.Root)
		cfg.Root = &r
	}
	return removed
}

// applyConfig builds every handler and replaces the sinks of every configured
// logger. Handlers whose constructor fails are skipped and returned.
// setupMu must be held.
func (s *Service) applyConfig(cfg *Config) []string {
	var failed []string
	built := make(map[string]Sink, len(cfg.Handlers))
	for _, name := range sortedKeys(cfg.Handlers) {
		hc := cfg.Handlers[name]
		sink, err := sinkRegistry[hc.Type].build(s, name, hc, cfg)
		if err != nil {
			s.diag().DebugWith().Err(err).Str("handler", name).Msg("Handler could not be built")
			failed = append(failed, name)
			continue
		}
		built[name] = sink
	}

	attached := make(map[Sink]bool)
	var replaced []Sink
	configure := func(l *Logger, lc LoggerConfig, isRoot bool) {
		sinks := make([]Sink, 0, len(lc.Handlers))
		for _, h := range lc.Handlers {
			if sink, ok := built[h]; ok {
				sinks = append(sinks, sink)
				attached[sink] = true
			}
		}
		replaced = append(replaced, l.replaceSinks(sinks)...)
		if lc.Level != emptyString {
			l.SetLevel(mustParseLevel(lc.Level, LevelNotSet))
		}
		if lc.Propagate != nil && !isRoot {
			l.SetPropagate(*lc.Propagate)
		}
	}
	for _, name := range sortedKeys(cfg.Loggers) {
		if name == emptyString || name == RootLoggerName {
			configure(s.root, cfg.Loggers[name], true)
			continue
		}
		configure(s.logger(name), cfg.Loggers[name], false)
	}
	if cfg.Root != nil {
		configure(s.root, *cfg.Root, true)
	}

	for _, sink := range built {
		if !attached[sink] {
			replaced = append(replaced, sink)
		}
	}
	closeSinks(replaced, attached)
	return failed
}

// closeSinks closes each sink once, skipping those still attached.
func closeSinks(sinks []Sink, keep map[Sink]bool) {
	seen := make(map[Sink]bool, len(sinks))
	for _, sink := range sinks {
		if sink == nil || seen[sink] || keep[sink] {
			continue
		}
		seen[sink] = true
		_ = sink.Close()
	}
}

// SetConsoleLevel changes the level of the root console sink; the root level
// itself is left alone.
func (s *Service) SetConsoleLevel(level zerolog.Level) {
	if sink := s.Root().Sink(ConsoleSinkName); sink != nil {
		sink.SetLevel(level)
	}
}

// Close closes every attached sink. Loggers stay usable; file sinks reopen
// on the next write.
func (s *Service) Close() error {
	if !s.initialized.Load() {
		return nil
	}
	s.mu.Lock()
	loggers := make([]*Logger, 0, len(s.loggers))
	for _, l := range s.loggers {
		loggers = append(loggers, l)
	}
	s.mu.Unlock()

	seen := make(map[Sink]bool)
	var errs []error
	for _, l := range loggers {
		for _, sink := range l.Sinks() {
			if seen[sink] {
				continue
			}
			seen[sink] = true
			if err := sink.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Service) diag() *Logger {
	return s.GetLogger(PackageLoggerName)
}

func (s *Service) reportError(err error) {
	if err == nil {
		return
	}
	if s.ErrorHandler != nil {
		s.ErrorHandler(err)
		return
	}
	_, _ = fmt.Fprintf(os.Stderr, "riglog: %v\n", err)
}

func (s *Service) stdout() io.Writer {
	if s.Stdout != nil {
		return s.Stdout
	}
	return os.Stdout
}

func (s *Service) probeTimeout() time.Duration {
	if s.ProbeTimeout > 0 {
		return s.ProbeTimeout
	}
	return DefaultProbeTimeout
}

// logsDir picks the handler's own directory, then the service's, then the
// configured default.
func (s *Service) logsDir(cfg *Config, handlerDir string) string {
	switch {
	case handlerDir != emptyString:
		return handlerDir
	case s.LogsDir != emptyString:
		return s.LogsDir
	case cfg != nil && cfg.Defaults.LogsDir != emptyString:
		return cfg.Defaults.LogsDir
	}
	return DefaultLogsDir
}

// formatter resolves a formatter name against cfg and then the embedded
// defaults; an empty name uses fallback.
func (s *Service) formatter(cfg *Config, name, fallback string) Formatter {
	if name == emptyString {
		name = fallback
	}
	if cfg != nil {
		if fc, ok := cfg.Formatters[name]; ok {
			return NewFormatter(fc)
		}
	}
	if fc, ok := defaultConfig.Formatters[name]; ok {
		return NewFormatter(fc)
	}
	return JSONFormatter{}
}

// sharedBackup returns the service's single backup handle, creating it from
// the configuration on first use.
func (s *Service) sharedBackup(cfg *Config) *SharedBackup {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backup != nil {
		return s.backup
	}
	bc := defaultConfig.ServerBackup
	if cfg != nil && cfg.ServerBackup != nil {
		bc = cfg.ServerBackup
	}
	opts := BackupOptions{Name: "server_backup", Formatter: s.formatter(cfg, emptyString, "detailed")}
	if bc != nil {
		opts.Filename = bc.BackupFile
		opts.MaxBytes = bc.MaxBytes
		opts.BackupCount = bc.BackupCount
		opts.Formatter = s.formatter(cfg, bc.Formatter, "detailed")
	}
	if s.BackupFile != emptyString {
		opts.Filename = s.BackupFile
	}
	s.backup = NewSharedBackup(opts)
	return s.backup
}
