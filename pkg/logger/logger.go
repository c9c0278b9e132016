// Package logger configures the global zerolog logger with file rotation.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fwcentral/fwcentral/internal/version"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logDir = "/var/log/fwcentral"

// InitLogger sets up the global logger for the named binary. Logs rotate via
// lumberjack; development builds log to stderr with caller info instead.
func InitLogger(name string) *lumberjack.Logger {
	fileName := fmt.Sprintf("%s/%s.log", logDir, name)
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		fileName = fmt.Sprintf("%s.log", name)
	}

	logRotate := &lumberjack.Logger{
		Filename:   fileName,
		MaxSize:    50, // MB before rotation
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}

	var output io.Writer
	if version.Version == "dev" {
		output = PrettyWriter(os.Stderr, true)
	} else {
		output = PrettyWriter(logRotate, false)
	}
	log.Logger = zerolog.New(output).With().Timestamp().Caller().Logger()

	return logRotate
}

// PrettyWriter returns a zerolog.ConsoleWriter with or without caller info.
func PrettyWriter(out io.Writer, showCaller bool) zerolog.ConsoleWriter {
	cw := zerolog.ConsoleWriter{
		Out:          out,
		NoColor:      true,
		TimeFormat:   time.RFC3339,
		TimeLocation: time.Local,
		FormatLevel: func(i interface{}) string {
			return "[" + strings.ToUpper(fmt.Sprint(i)) + "]"
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprint(i)
		},
		FormatFieldName: func(i interface{}) string {
			return "(" + fmt.Sprint(i) + ")"
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprint(i)
		},
	}
	if showCaller {
		cw.FormatCaller = func(i interface{}) string {
			if i == nil || i == "" {
				return ""
			}
			callerStr := fmt.Sprint(i)
			if idx := strings.Index(callerStr, "/fwcentral/"); idx != -1 {
				callerStr = callerStr[idx+len("/fwcentral/"):]
			}
			return fmt.Sprintf("(%s)", callerStr)
		}
	} else {
		cw.FormatCaller = func(i interface{}) string { return "" }
	}
	return cw
}
