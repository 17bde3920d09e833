// Package logger builds the zerolog.Logger shared by all components.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

type LogBuild struct {
	writer io.Writer
	path   string
	level  string
	format string
}

type LogData struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

func New() *LogBuild {
	return &LogBuild{}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

// Level sets the minimum level by name (debug, info, warn, error)
func (build *LogBuild) Level(level string) *LogBuild {
	build.level = level
	return build
}

// Format selects "json" (default) or "console" output
func (build *LogBuild) Format(format string) *LogBuild {
	build.format = format
	return build
}

func (build *LogBuild) Make() (logData *LogData, err error) {
	logData = new(LogData)

	var writer io.Writer = os.Stderr
	if build.writer != nil {
		writer = build.writer
	}
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		writer = zerolog.SyncWriter(logData.LogFile)
	}
	if strings.EqualFold(build.format, "console") {
		writer = zerolog.ConsoleWriter{Out: writer}
	}

	level := zerolog.InfoLevel
	if build.level != "" {
		level, err = zerolog.ParseLevel(strings.ToLower(build.level))
		if err != nil {
			return nil, err
		}
	}

	logData.Logger = zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return logData, nil
}

// Close closes the log file, if one was opened
func (logData *LogData) Close() error {
	if logData.LogFile == nil {
		return nil
	}
	return logData.LogFile.Close()
}
