// Package logging sends the process log to stdout and a size-capped file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultMaxSize = 5 * 1024 * 1024
	defaultBackups = 3
)

// RotatingWriter appends to path and shifts it to path.1 .. path.N once it
// grows past maxSize. The oldest backup is dropped.
type RotatingWriter struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	backups int

	file *os.File
	size int64
}

// Setup tees the standard logger to stdout and a rotating file at logPath.
func Setup(logPath string) (*RotatingWriter, error) {
	rw, err := NewRotatingWriter(logPath, defaultMaxSize, defaultBackups)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rw))
	return rw, nil
}

func NewRotatingWriter(logPath string, maxSize int64, backups int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if backups < 1 {
		backups = 1
	}

	w := &RotatingWriter{path: logPath, maxSize: maxSize, backups: backups}
	if info, err := os.Stat(logPath); err == nil && info.Size() >= maxSize {
		w.shift()
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// shift renames path.(N-1) to path.N and so on down to path -> path.1.
func (w *RotatingWriter) shift() {
	for i := w.backups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", w.path, i), fmt.Sprintf("%s.%d", w.path, i+1))
	}
	_ = os.Rename(w.path, w.path+".1")
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	if w.size >= w.maxSize {
		w.file.Close()
		w.shift()
		if openErr := w.open(); openErr != nil {
			w.file = nil
			if err == nil {
				err = openErr
			}
		}
	}
	return n, err
}

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
