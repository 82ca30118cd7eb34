// Package logging configures the logrus logger shared by ssw components.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how verbosely ssw logs.
type Options struct {
	// File, when set, receives logs through a rotating writer instead of stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	Verbose    bool
	// Console receives logs when File is empty. Defaults to stderr.
	Console io.Writer
	// Fs holds the log file. Defaults to the OS filesystem, the only one on
	// which the file is rotated.
	Fs afero.Fs
}

// LogFormatter renders entries as: [2025-12-23 20:14:04] [info ] message | key=value, key=value
type LogFormatter struct{}

// Format renders a single log entry.
func (f *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	fmt.Fprintf(buffer, "[%s] [%-5s] %s", entry.Time.Format("2006-01-02 15:04:05"), level, strings.TrimRight(entry.Message, "\r\n"))

	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buffer.WriteString(" |")
		for i, k := range keys {
			if i > 0 {
				buffer.WriteString(",")
			}
			fmt.Fprintf(buffer, " %s=%v", k, entry.Data[k])
		}
	}
	buffer.WriteString("\n")
	return buffer.Bytes(), nil
}

// New builds a logger from opts. The returned closer releases the log file, if any.
func New(opts Options) (*log.Logger, io.Closer, error) {
	logger := log.New()
	logger.SetFormatter(&LogFormatter{})
	logger.SetLevel(log.InfoLevel)
	if opts.Verbose {
		logger.SetLevel(log.DebugLevel)
	}

	if opts.File == "" {
		// the terminal already shows command results, so only problems are logged there
		if !opts.Verbose {
			logger.SetLevel(log.WarnLevel)
		}
		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		logger.SetOutput(console)
		return logger, io.NopCloser(nil), nil
	}

	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
		return nil, nil, fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	if _, ok := fs.(*afero.OsFs); !ok {
		f, err := fs.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: failed to open log file: %w", err)
		}
		logger.SetOutput(f)
		return logger, f, nil
	}

	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	writer := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
	}
	logger.SetOutput(writer)
	return logger, writer, nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l log.FieldLogger) log.FieldLogger {
	if l == nil {
		return Discard()
	}
	return l
}
