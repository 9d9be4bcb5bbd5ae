// Package log centralizes logging setup for every meshwatch daemon and
// command, on top of github.com/op/go-logging: a syslog backend when
// available, falling back to colorized stderr, with the level
// controllable via MESHWATCH_LOG_LEVEL.
package log

import (
	stdlog "log"
	"log/syslog"
	"os"

	"github.com/op/go-logging"
)

// Logger is a per-package logger handle; every meshwatch package that
// logs calls log.New("its-name") once at init and keeps the result.
type Logger = logging.Logger

var syslogFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.6s} %{module} ▶ %{message}`,
)
var stderrFormat = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} %{level:.6s} %{module} ▶ %{message}%{color:reset}`,
)

// New returns the logger for the named module. Safe to call before
// SetupLogging; messages are simply dropped until a backend is
// installed, matching go-logging's usual startup order.
func New(module string) *Logger {
	return logging.MustGetLogger(module)
}

// SetupLogging installs the process-wide logging backend. prefix tags
// syslog entries and the stderr fallback (e.g. "sensornoded",
// "masternoded"); defaultLogLevel is used unless overridden by the
// MESHWATCH_LOG_LEVEL environment variable.
func SetupLogging(prefix string, defaultLogLevel logging.Level, trySyslog bool) {
	var backend logging.Backend
	if trySyslog {
		var err error
		backend, err = logging.NewSyslogBackendPriority(prefix, syslog.LOG_NOTICE)
		if err == nil {
			logging.SetFormatter(syslogFormat)
			if syslogBackend, ok := backend.(*logging.SyslogBackend); ok {
				stdlog.SetOutput(syslogBackend.Writer)
			}
		} else {
			backend = nil
		}
	}
	if backend == nil {
		backend = logging.NewLogBackend(os.Stderr, prefix, 0)
		logging.SetFormatter(stderrFormat)
	}

	leveled := logging.AddModuleLevel(backend)
	switch os.Getenv("MESHWATCH_LOG_LEVEL") {
	case "CRITICAL":
		leveled.SetLevel(logging.CRITICAL, "")
	case "ERROR":
		leveled.SetLevel(logging.ERROR, "")
	case "WARNING":
		leveled.SetLevel(logging.WARNING, "")
	case "NOTICE":
		leveled.SetLevel(logging.NOTICE, "")
	case "INFO":
		leveled.SetLevel(logging.INFO, "")
	case "DEBUG":
		leveled.SetLevel(logging.DEBUG, "")
	default:
		leveled.SetLevel(defaultLogLevel, "")
	}

	logging.SetBackend(leveled)
}
