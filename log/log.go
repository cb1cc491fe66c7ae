package log

import (
	"context"
	"errors"
	"os"
	"runtime"

	log "github.com/sirupsen/logrus"
)

type contextKey int

// triggerIDKey is the context key under which the identifier of the
// changelist that triggered the current operation is stored.
const triggerIDKey contextKey = iota

var (
	logger = log.New()
)

// InitializeLogger creates a default logger whose output format differs
// depending on whether the developer mode flag is enabled/disabled. An
// unparsable level falls back to debug (developer mode) or info.
func InitializeLogger(developerModeFlag bool, level string) {
	logger = log.New()

	if developerModeFlag {
		customFormatter := new(log.TextFormatter)
		customFormatter.FullTimestamp = true
		customFormatter.TimestampFormat = "2006-01-02 15:04:05"
		logger.Level = log.DebugLevel
		logger.Formatter = customFormatter
	} else {
		customFormatter := new(log.JSONFormatter)
		customFormatter.TimestampFormat = "2006-01-02 15:04:05"
		customFormatter.DisableTimestamp = false
		logger.Level = log.InfoLevel
		logger.Formatter = customFormatter
	}
	if lv, err := log.ParseLevel(level); err == nil {
		logger.Level = lv
	}

	logger.Out = os.Stdout
}

// NewCustomizedLogger creates a custom logger specifying the desired log level
// and the developer mode flag. Returns the logger object and the error.
func NewCustomizedLogger(level string, developerModeFlag bool) (*log.Logger, error) {
	logger := log.New()

	lv, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.Level = lv

	if developerModeFlag {
		customFormatter := new(log.TextFormatter)
		customFormatter.FullTimestamp = true
		customFormatter.TimestampFormat = "2006-01-02 15:04:05"
		logger.Formatter = customFormatter
	} else {
		customFormatter := new(log.JSONFormatter)
		customFormatter.TimestampFormat = "2006-01-02 15:04:05"
		customFormatter.DisableTimestamp = false
		logger.Formatter = customFormatter
	}

	logger.Out = os.Stdout

	return logger, nil
}

// Logger returns the current logger object.
func Logger() *log.Logger {
	return logger
}

// ContextWithTrigger returns a context carrying the id of the changelist whose
// activity triggered the current operation. All log output produced within that
// operation is tagged with it.
func ContextWithTrigger(ctx context.Context, change int) context.Context {
	return context.WithValue(ctx, triggerIDKey, change)
}

// Error logs an error message that might contain the following attributes: pid,
// triggering changelist if provided by the context, file location of the
// caller, line that called the log Error function and the function name.
// Moreover, we can use the parameter fields to add additional attributes to the
// output message. Likewise format and args are used to print a detailed message
// with the reasons of the error log.
func Error(ctx context.Context, fields map[string]interface{}, format string, args ...interface{}) {
	if logger.Level >= log.ErrorLevel {
		entry := logger.WithField("pid", os.Getpid())

		file, line, fName, err := extractCallerDetails()
		if err == nil {
			entry = entry.WithField("file", file).WithField("line", line).WithField("func", fName)
		}

		entry = withTrigger(ctx, entry)

		if len(args) > 0 {
			entry.WithFields(fields).Errorf(format, args...)
		} else {
			entry.WithFields(fields).Errorln(format)
		}
	}
}

// Warn logs a warning message that might contain the following attributes:
// triggering changelist if provided by the context, the file and the function
// name that invoked the Warn() function. In this function, we can use the
// parameter fields to add additional attributes to the output of this message.
// Likewise format and args are used to print a detailed message with the
// reasons of the warning log.
func Warn(ctx context.Context, fields map[string]interface{}, format string, args ...interface{}) {
	if logger.Level >= log.WarnLevel {
		entry := log.NewEntry(logger)

		file, _, fName, err := extractCallerDetails()
		if err == nil {
			entry = entry.WithField("file", file).WithField("func", fName)
		}

		entry = withTrigger(ctx, entry)

		if len(args) > 0 {
			entry.WithFields(fields).Warnf(format, args...)
		} else {
			entry.WithFields(fields).Warnln(format)
		}
	}
}

// Info logs an info message that might contain the triggering changelist if
// provided by the context. In this function, the parameter fields enables
// additional attributes to the message. The format and args input arguments are
// used to print detailed information about the reasons of this log.
func Info(ctx context.Context, fields map[string]interface{}, format string, args ...interface{}) {
	if logger.Level >= log.InfoLevel {
		entry := withTrigger(ctx, log.NewEntry(logger))

		if len(args) > 0 {
			entry.WithFields(fields).Infof(format, args...)
		} else {
			entry.WithFields(fields).Infoln(format)
		}
	}
}

// Panic logs a panic message that might contain the following attributes:
// the triggering changelist if provided by the context and the pid.
func Panic(ctx context.Context, fields map[string]interface{}, format string, args ...interface{}) {
	if logger.Level >= log.ErrorLevel {
		entry := withTrigger(ctx, logger.WithField("pid", os.Getpid()))

		if len(args) > 0 {
			entry.WithFields(fields).Panicf(format, args...)
		} else {
			entry.WithFields(fields).Panicln(format)
		}
	}
}

// Debug logs a debug message that might specify the triggering changelist if
// provided by the context.
func Debug(ctx context.Context, fields map[string]interface{}, format string, args ...interface{}) {
	if logger.Level >= log.DebugLevel {
		entry := withTrigger(ctx, log.NewEntry(logger))

		if len(args) > 0 {
			entry.WithFields(fields).Debugf(format, args...)
		} else {
			entry.WithFields(fields).Debugln(format)
		}
	}
}

// withTrigger tags the entry with the triggering changelist id if the context
// carries one.
func withTrigger(ctx context.Context, entry *log.Entry) *log.Entry {
	if ctx == nil {
		return entry
	}
	if change, ok := ctx.Value(triggerIDKey).(int); ok {
		return entry.WithField("change", change)
	}
	return entry
}

// extractCallerDetails gets information about the file, line and function that
// called a certain logging method such as Error, Info, Debug, Warn and Panic.
func extractCallerDetails() (string, int, string, error) {
	if pc, file, line, ok := runtime.Caller(2); ok {
		fName := runtime.FuncForPC(pc).Name()
		return file, line, fName, nil
	}

	return "", 0, "", errors.New("unable to extract the caller details")
}
