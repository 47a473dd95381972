package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

var (
	DEBUGLogger   *log.Logger
	INFOLogger    *log.Logger
	WARNINGLogger *log.Logger
	ERRORLogger   *log.Logger
)

const (
	DEBUG_LEVEL   = 10
	INFO_LEVEL    = 20
	WARNING_LEVEL = 30
	ERROR_LEVEL   = 40
)

var LOG_LEVEL = INFO_LEVEL // default log level

func init() {
	flag := log.Ldate | log.Ltime | log.Lmicroseconds | log.Lmsgprefix | log.Lshortfile

	DEBUGLogger = log.New(os.Stderr, "DEBUG ", flag)
	INFOLogger = log.New(os.Stderr, "INFO ", flag)
	WARNINGLogger = log.New(os.Stderr, "WARNING ", flag)
	ERRORLogger = log.New(os.Stderr, "ERROR ", flag)

	if logLevelStr := os.Getenv("LOG_LEVEL"); logLevelStr != "" {
		if !SetLevel(logLevelStr) {
			WARNINGLogger.Printf("Unrecognized LOG_LEVEL env variable value: %s. Keeping LOG_LEVEL at level INFO (20)", logLevelStr)
		}
	}
}

// SetLevel sets LOG_LEVEL from its name and reports whether the name was known.
func SetLevel(name string) bool {
	switch strings.ToUpper(name) {
	case "DEBUG":
		LOG_LEVEL = DEBUG_LEVEL
	case "INFO":
		LOG_LEVEL = INFO_LEVEL
	case "WARNING":
		LOG_LEVEL = WARNING_LEVEL
	case "ERROR":
		LOG_LEVEL = ERROR_LEVEL
	default:
		return false
	}
	return true
}

// SetOutput redirects every level logger, e.g. to silence tests.
func SetOutput(w io.Writer) {
	for _, l := range []*log.Logger{DEBUGLogger, INFOLogger, WARNINGLogger, ERRORLogger} {
		l.SetOutput(w)
	}
}

// Output depth 2 keeps Lshortfile pointing at the caller.

func Debugf(format string, v ...any) {
	if LOG_LEVEL <= DEBUG_LEVEL {
		DEBUGLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

func Infof(format string, v ...any) {
	if LOG_LEVEL <= INFO_LEVEL {
		INFOLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

func Warningf(format string, v ...any) {
	if LOG_LEVEL <= WARNING_LEVEL {
		WARNINGLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

func Errorf(format string, v ...any) {
	if LOG_LEVEL <= ERROR_LEVEL {
		ERRORLogger.Output(2, fmt.Sprintf(format, v...))
	}
}
