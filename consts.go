package riglog

import "time"

const (
	// RootLoggerName is the name under which the root logger is registered.
	RootLoggerName = "root"
	// PackageLoggerName is the logger used for the facade's own diagnostics.
	PackageLoggerName = "riglog"
	// ConsoleSinkName names the console sink attached to the root logger.
	ConsoleSinkName = "console"

	// ComponentIDEnv supplies the component_id enrichment field.
	ComponentIDEnv = "aibs_comp_id"
	// ConfigStoreEnv holds a redis URL used to resolve remote config keys.
	ConfigStoreEnv = "RIGLOG_CONFIG_STORE"
	// DefaultConfigKey is the remote key consulted when Setup gets no config.
	DefaultConfigKey = "/np_defaults/logging"

	emptyString = ""
)

// Builtin defaults used when neither the configuration nor the caller
// provides a value.
const (
	DefaultLogsDir         = "logs"
	DefaultServerLogger    = "web"
	DefaultEmailLogger     = "email"
	DefaultServerHandler   = "log_server"
	DefaultServerHost      = "eng-mindscope"
	DefaultServerPort      = 9000
	DefaultMailHost        = "aicas-1.corp.alleninstitute.org"
	DefaultFromAddr        = "rigs@alleninstitute.org"
	DefaultSubject         = "np_logging"
	DefaultMaxBytes        = 10 * 1024 * 1024
	DefaultBackupCount     = 10
	DefaultEmailTimeout    = 5 * time.Second
	DefaultProbeTimeout    = 2 * time.Second
	DefaultDialTimeout     = 5 * time.Second
	backupRetention        = 1_000_000
	remoteRetryStart       = time.Second
	remoteRetryMax         = 30 * time.Second
	remoteRetryFactor      = 2
	defaultSMTPPort        = "25"
	defaultEncoding        = "utf-8"
	defaultFileMode        = "a"
	defaultRotation        = "numbered"
	timestampedRotation    = "timestamped"
	supportedConfigVersion = 1
)

const (
	errMsgNilConfig        = "Logging config is nil."
	errMsgConfigInvalid    = "Logging configuration is invalid."
	errMsgConfigVersion    = "Logging configuration version must be 1."
	errMsgUnknownSinkType  = "Unknown sink type."
	errMsgUnknownHandler   = "Logger references an unknown handler."
	errMsgUnknownFormatter = "Handler references an unknown formatter."
	errMsgInvalidLevel     = "Invalid log level."
	errMsgConfigSource     = "Configuration source could not be resolved."
	errMsgConfigDecode     = "Configuration could not be decoded."
	errMsgConfigFormat     = "Unsupported configuration file extension."
	errMsgNoStore          = "No remote config store is configured."
	errMsgNoRecipients     = "Email sink needs at least one recipient."
	errMsgNoHost           = "Remote sink needs a host and port."
	errMsgLogsDir          = "Failed to create logs directory."
	errMsgEncoding         = "Unknown file encoding."
	errMsgSMTP             = "Failed to send log email."
	errMsgSMTPAuth         = "Unexpected SMTP authentication challenge."
	errMsgUnreachable      = "Sink target is not reachable."
)
