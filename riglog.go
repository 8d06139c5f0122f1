package riglog

import (
	"context"

	"github.com/rs/zerolog"
)

var std = NewService()

// Default returns the process-wide service behind the package functions.
func Default() *Service { return std }

// Setup configures the default service. See Service.Setup.
func Setup(opts ...SetupOption) error { return std.Setup(opts...) }

// GetLogger returns a logger of the default service; "" is the root logger.
func GetLogger(name string) *Logger { return std.GetLogger(name) }

func Root() *Logger { return std.Root() }

func Web(project string) *Logger { return std.Web(project) }

func Email(addresses []string, opts ...EmailOption) (*Logger, error) {
	return std.Email(addresses, opts...)
}

func SetConsoleLevel(level zerolog.Level) { std.SetConsoleLevel(level) }

func DebugScope() (restore func()) { return std.DebugScope() }

func Debug(fn func() error) error { return std.Debug(fn) }

func Exit(cause error) { std.Exit(cause) }

// HandleExit must be deferred directly:
//
//	func main() {
//		defer riglog.HandleExit()
//		...
//	}
func HandleExit() { std.handleExit(recover()) }

func WatchSignals(ctx context.Context) (stop func()) { return std.WatchSignals(ctx) }

func Close() error { return std.Close() }
