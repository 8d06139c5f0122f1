package riglog

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localConfig is the embedded default with the collector pointed at port
// and no handlers that need the network unless asked for.
func localConfig(port int) *Config {
	cfg := DefaultConfig()
	hc := cfg.Handlers[DefaultServerHandler]
	hc.Host = "127.0.0.1"
	hc.Port = port
	cfg.Handlers[DefaultServerHandler] = hc
	return cfg
}

func sinkNames(l *Logger) []string {
	var names []string
	for _, s := range l.Sinks() {
		names = append(names, s.Name())
	}
	return names
}

func TestService_RootAttachesDefaultSinksOnce(t *testing.T) {
	svc := newTestService(t)

	root := svc.Root()
	assert.Same(t, root, svc.GetLogger(""))
	assert.Same(t, root, svc.GetLogger(RootLoggerName))
	assert.ElementsMatch(t, []string{"warning_file", "debug_file", ConsoleSinkName}, sinkNames(root))
	assert.Equal(t, zerolog.DebugLevel, root.Level())
	assert.True(t, svc.ExitReporter().Armed())

	console := root.Sink(ConsoleSinkName)
	require.NotNil(t, console)
	assert.Equal(t, zerolog.InfoLevel, console.Level())

	svc.Root()
	assert.Len(t, root.Sinks(), 3)

	root.WarnWith().Msg("to every sink")
	require.NoError(t, svc.Close())
	for _, name := range []string{"warning.log", "debug.log"} {
		data, err := os.ReadFile(filepath.Join(svc.LogsDir, name))
		require.NoError(t, err, name)
		assert.Contains(t, string(data), "to every sink")
	}
	assert.Contains(t, svc.Stdout.(*bytes.Buffer).String(), "to every sink")
}

func TestService_WebIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.Setup(WithConfig(localConfig(closedPort(t))), WithProjectName("np_test")))

	web := svc.Web("np_test")
	require.Len(t, web.Sinks(), 1)
	remote, ok := web.Sinks()[0].(*RemoteSink)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", remote.Host())

	again := svc.Web("other")
	assert.Same(t, web, again)
	assert.Len(t, again.Sinks(), 1)
}

func TestService_WebWithoutSetupUsesDefaultCollector(t *testing.T) {
	svc := newTestService(t)

	web := svc.Web("")
	require.Len(t, web.Sinks(), 1)
	remote := web.Sinks()[0].(*RemoteSink)
	assert.Equal(t, DefaultServerHost, remote.Host())
	assert.Equal(t, DefaultServerPort, remote.Port())
	assert.Equal(t, svc.BackupFile, remote.Backup().Path())
	assert.Equal(t, zerolog.ErrorLevel, remote.Level())
}

func TestService_WebRecordsReachBackup(t *testing.T) {
	svc := newTestService(t)
	svc.ErrorHandler = func(err error) { t.Errorf("unexpected sink error: %v", err) }
	require.NoError(t, svc.Setup(WithConfig(localConfig(closedPort(t)))))

	web := svc.Web("np_test")
	web.ErrorWith().Msg("collector is down")

	data, err := os.ReadFile(svc.BackupFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "collector is down")
}

func TestService_WebKeepsBackupAfterClose(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.Setup(WithConfig(localConfig(closedPort(t)))))
	t.Cleanup(func() { _ = svc.Close() })

	web := svc.Web("np_test")
	web.ErrorWith().Msg("before close")
	require.NoError(t, svc.Close())

	assert.Same(t, web, svc.Web("np_test"))
	web.ErrorWith().Msg("after close")

	data, err := os.ReadFile(svc.BackupFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "before close")
	assert.Contains(t, string(data), "after close")
}

func TestService_EmailRecipients(t *testing.T) {
	svc := newTestService(t)

	l, err := svc.Email([]string{"a@b.com"})
	require.NoError(t, err)
	require.Len(t, l.Sinks(), 1)
	es := l.Sinks()[0].(*EmailSink)
	assert.Equal(t, []string{"a@b.com"}, es.ToAddrs())
	assert.False(t, l.Propagate())

	policy := svc.ExitReporter().Policy()
	assert.Equal(t, EmailOnExit, policy.Email)
	assert.True(t, policy.LogAtExit)

	again, err := svc.Email([]string{"x@y.com"}, ExceptionOnly())
	require.NoError(t, err)
	assert.Same(t, l, again)
	assert.Equal(t, []string{"a@b.com"}, es.ToAddrs())
}

func TestService_EmailOptions(t *testing.T) {
	svc := newTestService(t)

	l, err := svc.Email([]string{"a@b.com"}, WithSubject("np rig"), ExceptionOnly(), WithoutRootLog())
	require.NoError(t, err)
	assert.Equal(t, "np rig", l.Sinks()[0].(*EmailSink).Subject())

	policy := svc.ExitReporter().Policy()
	assert.Equal(t, EmailOnError, policy.Email)
	assert.False(t, policy.LogAtExit)
}

func TestService_EmailRejectsBadAddresses(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Email(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), errMsgNoRecipients)

	_, err = svc.Email([]string{"nope"})
	require.Error(t, err)
	assert.False(t, svc.GetLogger(DefaultEmailLogger).HasSinks())
}

func TestService_SetupDefault(t *testing.T) {
	svc := newTestService(t)
	svc.ProbeTimeout = 200 * time.Millisecond

	require.NoError(t, svc.Setup(WithConfig(localConfig(closedPort(t))), WithProjectName("np_test")))

	assert.ElementsMatch(t, []string{"console", "debug_file_handler", "warning_file_handler"}, sinkNames(svc.root))
	assert.Equal(t, "np_test", svc.Enrichment().Fields().Project)
	assert.False(t, svc.GetLogger("web").HasSinks(), "unreachable collector is dropped")
	assert.True(t, svc.ExitReporter().Armed())
	assert.Equal(t, EmailNever, svc.ExitReporter().Policy().Email)

	for _, s := range svc.root.Sinks() {
		if fs, ok := s.(*FileSink); ok {
			assert.Equal(t, svc.LogsDir, filepath.Dir(fs.Path()))
		}
	}
}

func TestService_SetupKeepsReachableCollector(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	svc := newTestService(t)
	require.NoError(t, svc.Setup(WithConfig(localConfig(ln.Addr().(*net.TCPAddr).Port))))

	web := svc.GetLogger("web")
	require.Len(t, web.Sinks(), 1)
	assert.Equal(t, DefaultServerHandler, web.Sinks()[0].Name())
}

func TestService_SetupIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	cfg := localConfig(closedPort(t))

	require.NoError(t, svc.Setup(WithConfig(cfg)))
	require.NoError(t, svc.Setup(WithConfig(cfg)))
	assert.Len(t, svc.root.Sinks(), 3)
}

func TestService_SetupDropsUnwritableLogsDir(t *testing.T) {
	svc := newTestService(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	svc.LogsDir = filepath.Join(blocker, "logs")

	debugBuf := &bytes.Buffer{}
	diag := svc.GetLogger(PackageLoggerName)
	diag.AddSink(NewConsoleSink(ConsoleOptions{Name: "diag", Out: debugBuf, Formatter: JSONFormatter{}}))

	require.NoError(t, svc.Setup(WithConfig(localConfig(closedPort(t)))))

	assert.Equal(t, []string{"console"}, sinkNames(svc.root))
	assert.Contains(t, debugBuf.String(), "debug_file_handler")
	assert.Contains(t, debugBuf.String(), "warning_file_handler")
}

func TestService_SetupEmailOverride(t *testing.T) {
	svc := newTestService(t)
	cfg := localConfig(closedPort(t))
	cfg.Handlers["mail"] = HandlerConfig{Type: sinkTypeEmail, ToAddrs: []string{"old@b.com"}, MailHost: "127.0.0.1:" + strconv.Itoa(closedPort(t))}
	cfg.Loggers["email"] = LoggerConfig{Handlers: []string{"mail"}}

	require.NoError(t, svc.Setup(WithConfig(cfg), WithEmailAddress("a@b.com")))

	email := svc.GetLogger("email")
	require.Len(t, email.Sinks(), 1)
	assert.False(t, email.Propagate())

	l, err := svc.Email([]string{"ignored@b.com"})
	require.NoError(t, err)
	assert.Same(t, email, l)
	require.Len(t, l.Sinks(), 1)
	assert.Equal(t, []string{"a@b.com"}, l.Sinks()[0].(*EmailSink).ToAddrs())
	assert.Equal(t, EmailOnExit, svc.ExitReporter().Policy().Email)
}

func TestService_SetupEmailOverrideReplacesConfiguredRecipients(t *testing.T) {
	addr, _ := fakeSMTP(t)
	svc := newTestService(t)
	cfg := localConfig(closedPort(t))
	cfg.Handlers["mail"] = HandlerConfig{Type: sinkTypeEmail, ToAddrs: []string{"old@b.com"}, MailHost: addr}
	cfg.Loggers["email"] = LoggerConfig{Handlers: []string{"mail"}}

	require.NoError(t, svc.Setup(WithConfig(cfg), WithEmailAddress("a@b.com"), WithEmailAtExit(EmailOnError)))

	sinks := svc.GetLogger("email").Sinks()
	require.Len(t, sinks, 1)
	assert.Equal(t, []string{"a@b.com"}, sinks[0].(*EmailSink).ToAddrs())
	assert.Equal(t, EmailOnError, svc.ExitReporter().Policy().Email)
}

func TestService_SetupRejectsInvalidConfig(t *testing.T) {
	svc := newTestService(t)
	cfg := DefaultConfig()
	cfg.Version = 3

	err := svc.Setup(WithConfig(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), errMsgConfigVersion)
	assert.False(t, svc.root.HasSinks())
}

func TestService_SetupFromFile(t *testing.T) {
	svc := newTestService(t)
	path := filepath.Join(t.TempDir(), "logging.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlConfig), 0o644))

	require.NoError(t, svc.Setup(WithConfigSource(path)))

	assert.Equal(t, []string{"out"}, sinkNames(svc.root))
	acq := svc.GetLogger("acq")
	assert.Equal(t, []string{"files"}, sinkNames(acq))
	assert.False(t, acq.Propagate())
	assert.Equal(t, zerolog.InfoLevel, acq.Level())
}

func TestService_SetConsoleLevel(t *testing.T) {
	svc := newTestService(t)
	root := svc.Root()
	before := root.Level()

	svc.SetConsoleLevel(zerolog.ErrorLevel)
	assert.Equal(t, zerolog.ErrorLevel, root.Sink(ConsoleSinkName).Level())
	assert.Equal(t, before, root.Level())

	out := svc.Stdout.(*bytes.Buffer)
	out.Reset()
	root.WarnWith().Msg("hidden from console")
	assert.Zero(t, out.Len())
}

func TestService_DefaultErrorHandlerIsQuiet(t *testing.T) {
	svc := newTestService(t)
	assert.NotPanics(t, func() { svc.reportError(nil) })

	var got error
	svc.ErrorHandler = func(err error) { got = err }
	svc.reportError(os.ErrClosed)
	assert.ErrorIs(t, got, os.ErrClosed)
}
