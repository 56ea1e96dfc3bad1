// ABOUTME: Rotating file logger so background components can log while the terminal UI owns the screen.
// ABOUTME: Wraps lumberjack behind a stdlib *log.Logger, which every package accepts.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a *log.Logger writing to a rotating file.
type Logger struct {
	*log.Logger
	file *lumberjack.Logger
}

// New opens (or creates) path for appending. If also is non-nil every line
// is written there too.
func New(path string, also io.Writer) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
	var w io.Writer = file
	if also != nil {
		w = io.MultiWriter(file, also)
	}
	return &Logger{Logger: log.New(w, "", log.LstdFlags), file: file}, nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	return l.file.Close()
}
