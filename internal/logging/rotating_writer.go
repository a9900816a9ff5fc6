package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes is the size at which a day's file rolls over.
const DefaultMaxBytes int64 = 100 << 20

// RotatingWriter appends to <base>-YYYY-MM-DD[-N]<ext> next to basePath,
// starting a new file each UTC day and whenever a write would push the
// current file past MaxBytes. basePath itself is kept as a symlink to the
// active file when the platform allows it.
type RotatingWriter struct {
	BasePath string
	MaxBytes int64

	now func() time.Time

	mu    sync.Mutex
	day   string
	index int
	file  *os.File
	size  int64
}

// NewRotatingWriter opens the current file for basePath. A basePath of "-"
// discards output.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopCloser{io.Discard}, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	w := &RotatingWriter{BasePath: basePath, MaxBytes: maxBytes, now: time.Now}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotate(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotate(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the active file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Current returns the path of the active file.
func (w *RotatingWriter) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ""
	}
	return w.file.Name()
}

func (w *RotatingWriter) rotate(incoming int64) error {
	today := w.now().UTC().Format("2006-01-02")
	switch {
	case w.file == nil || w.day != today:
		w.day, w.index = today, 1
	case w.size > 0 && w.size+incoming > w.MaxBytes:
		w.index++
	default:
		return nil
	}
	return w.open()
}

func (w *RotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	path := w.pathFor(w.day, w.index)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.size = 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	w.file = f
	w.link(path)
	return nil
}

func (w *RotatingWriter) pathFor(day string, index int) string {
	ext := filepath.Ext(w.BasePath)
	stem := strings.TrimSuffix(w.BasePath, ext)
	if ext == "" {
		ext = ".log"
	}
	if index > 1 {
		return fmt.Sprintf("%s-%s-%d%s", stem, day, index, ext)
	}
	return fmt.Sprintf("%s-%s%s", stem, day, ext)
}

// link points BasePath at target; failures are ignored.
func (w *RotatingWriter) link(target string) {
	if info, err := os.Lstat(w.BasePath); err == nil {
		if info.Mode()&os.ModeSymlink == 0 {
			return
		}
		if dest, err := os.Readlink(w.BasePath); err == nil && dest == filepath.Base(target) {
			return
		}
		_ = os.Remove(w.BasePath)
	}
	_ = os.Symlink(filepath.Base(target), w.BasePath)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
