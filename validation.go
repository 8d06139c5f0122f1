package riglog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Station-Manager/errors"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate
var once sync.Once

func validatorInstance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateConfig rejects malformed configuration: struct constraints first,
// then the cross references the validator cannot see.
func validateConfig(cfg *Config) error {
	const op errors.Op = "riglog.validateConfig"
	if cfg == nil {
		return errors.New(op).Msg(errMsgNilConfig)
	}

	if cfg.Version != supportedConfigVersion {
		return errors.New(op).Msg(errMsgConfigVersion)
	}
	if err := validatorInstance().Struct(cfg); err != nil {
		return errors.New(op).Err(err).Msg(errMsgConfigInvalid)
	}

	for _, name := range sortedKeys(cfg.Handlers) {
		hc := cfg.Handlers[name]
		kind, ok := sinkRegistry[hc.Type]
		if !ok {
			return errors.New(op).Errorf("%s handler %q: type %q", errMsgUnknownSinkType, name, hc.Type)
		}
		if hc.Level != emptyString {
			if _, err := ParseLevel(hc.Level); err != nil {
				return errors.New(op).Err(err).Msg(fmt.Sprintf("%s handler %q", errMsgInvalidLevel, name))
			}
		}
		if hc.Formatter != emptyString && !hasFormatter(cfg, hc.Formatter) {
			return errors.New(op).Errorf("%s handler %q: formatter %q", errMsgUnknownFormatter, name, hc.Formatter)
		}
		if kind.check != nil {
			if err := kind.check(hc); err != nil {
				return errors.New(op).Err(err).Msg(fmt.Sprintf("%s handler %q", errMsgConfigInvalid, name))
			}
		}
	}

	check := func(logger string, lc LoggerConfig) error {
		if lc.Level != emptyString {
			if _, err := ParseLevel(lc.Level); err != nil {
				return errors.New(op).Err(err).Msg(fmt.Sprintf("%s logger %q", errMsgInvalidLevel, logger))
			}
		}
		for _, h := range lc.Handlers {
			if _, ok := cfg.Handlers[h]; !ok {
				return errors.New(op).Errorf("%s logger %q: handler %q", errMsgUnknownHandler, logger, h)
			}
		}
		return nil
	}
	for _, name := range sortedKeys(cfg.Loggers) {
		if err := check(name, cfg.Loggers[name]); err != nil {
			return err
		}
	}
	if cfg.Root != nil {
		if err := check(RootLoggerName, *cfg.Root); err != nil {
			return err
		}
	}
	if cfg.Defaults.LoggerLevel != emptyString {
		if _, err := ParseLevel(cfg.Defaults.LoggerLevel); err != nil {
			return errors.New(op).Err(err).Msg(errMsgInvalidLevel)
		}
	}
	if cfg.ServerBackup != nil && cfg.ServerBackup.Formatter != emptyString && !hasFormatter(cfg, cfg.ServerBackup.Formatter) {
		return errors.New(op).Errorf("%s server_backup: formatter %q", errMsgUnknownFormatter, cfg.ServerBackup.Formatter)
	}
	return nil
}

func hasFormatter(cfg *Config, name string) bool {
	if _, ok := cfg.Formatters[name]; ok {
		return true
	}
	_, ok := defaultConfig.Formatters[name]
	return ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
