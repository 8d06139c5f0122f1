package riglog

import (
	"strconv"
	"strings"

	"github.com/Station-Manager/errors"
	"github.com/rs/zerolog"
)

// LevelNotSet is below every zerolog level. A logger at LevelNotSet defers to
// its ancestors; a sink at LevelNotSet accepts every record.
const LevelNotSet zerolog.Level = zerolog.TraceLevel - 1

// ParseLevel accepts zerolog level names, the classic names WARNING, CRITICAL
// and NOTSET in any case, and the classic numeric levels 0, 10 ... 50.
func ParseLevel(level string) (zerolog.Level, error) {
	const op errors.Op = "riglog.ParseLevel"
	s := strings.ToLower(strings.TrimSpace(level))
	switch s {
	case emptyString, "notset":
		return LevelNotSet, nil
	case "warning":
		return zerolog.WarnLevel, nil
	case "critical":
		return zerolog.FatalLevel, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		switch n {
		case 0:
			return LevelNotSet, nil
		case 10:
			return zerolog.DebugLevel, nil
		case 20:
			return zerolog.InfoLevel, nil
		case 30:
			return zerolog.WarnLevel, nil
		case 40:
			return zerolog.ErrorLevel, nil
		case 50:
			return zerolog.FatalLevel, nil
		}
		return LevelNotSet, errors.New(op).Errorf("%s %q", errMsgInvalidLevel, level)
	}
	l, err := zerolog.ParseLevel(s)
	if err != nil || l == zerolog.NoLevel || l == zerolog.Disabled {
		return LevelNotSet, errors.New(op).Errorf("%s %q", errMsgInvalidLevel, level)
	}
	return l, nil
}

// LevelName returns the lowercase name used for file sink file names.
func LevelName(level zerolog.Level) string {
	switch level {
	case LevelNotSet:
		return "notset"
	case zerolog.WarnLevel:
		return "warning"
	case zerolog.FatalLevel:
		return "critical"
	default:
		return level.String()
	}
}

func mustParseLevel(level string, fallback zerolog.Level) zerolog.Level {
	l, err := ParseLevel(level)
	if err != nil {
		return fallback
	}
	return l
}
