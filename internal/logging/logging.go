// Package logging sets up the daemon's log output: stdout plus an optional
// rotating file, component loggers with bracketed prefixes and a debug gate.
package logging

import (
	"io"
	"log"
	"os"
	"strings"
)

// Flags used by every logger.
const Flags = log.LstdFlags | log.Lmicroseconds

// Setup routes the standard logger to stdout and, when file is set, to a
// rotating file. The returned closer releases the file.
func Setup(file, prefix string) (io.Closer, error) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{io.Discard}
	if strings.TrimSpace(file) != "" {
		rot, err := NewRotatingWriter(file, DefaultMaxBytes)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stdout, rot)
		closer = rot
	}
	log.SetOutput(out)
	log.SetFlags(Flags)
	log.SetPrefix("[" + prefix + "] ")
	return closer, nil
}

// Component returns a logger writing to the standard logger's output with
// the prefix "[<name>] ".
func Component(name string) *log.Logger {
	return log.New(log.Writer(), "["+name+"] ", Flags)
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// Debug reports whether level enables debug output.
func Debug(level string) bool {
	return strings.EqualFold(strings.TrimSpace(level), "debug")
}
