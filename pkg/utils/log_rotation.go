package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// LogRotation configures size based rotation of the log file. The zero value
// never rotates.
type LogRotation struct {
	// MaxSize is the size in bytes at which the file is rolled over.
	MaxSize int64
	// Backups is how many rolled over files are kept as name.1 ... name.N,
	// newest first. Zero keeps one.
	Backups int
}

// RotatingFile is an append-only file that rolls over once it reaches its
// maximum size. It is safe for concurrent use.
type RotatingFile struct {
	mu       sync.Mutex
	filename string
	rotation LogRotation
	file     *os.File
	size     int64
}

// OpenRotatingFile opens filename for appending, creating its directory.
func OpenRotatingFile(filename string, rotation LogRotation) (*RotatingFile, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if rotation.MaxSize < 0 || rotation.Backups < 0 {
		return nil, fmt.Errorf("invalid log rotation: max size %d, backups %d", rotation.MaxSize, rotation.Backups)
	}
	if rotation.Backups == 0 {
		rotation.Backups = 1
	}

	rf := &RotatingFile{filename: filename, rotation: rotation}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

// Write implements io.Writer. A single write is never split across files.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return 0, os.ErrClosed
	}
	if rf.rotation.MaxSize > 0 && rf.size > 0 && rf.size+int64(len(p)) > rf.rotation.MaxSize {
		if err := rf.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// Close closes the current file.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}

// Rotate rolls the file over now.
func (rf *RotatingFile) Rotate() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.rotate()
}

// rotate shifts name.i to name.i+1, dropping the oldest, and moves the
// current file to name.1. Caller holds mu.
func (rf *RotatingFile) rotate() error {
	if rf.file != nil {
		if err := rf.file.Close(); err != nil {
			return err
		}
		rf.file = nil
	}

	oldest := rf.backupName(rf.rotation.Backups)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return err
	}
	for i := rf.rotation.Backups - 1; i >= 1; i-- {
		if err := os.Rename(rf.backupName(i), rf.backupName(i+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.Rename(rf.filename, rf.backupName(1)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return rf.open()
}

func (rf *RotatingFile) backupName(i int) string {
	return rf.filename + "." + strconv.Itoa(i)
}

func (rf *RotatingFile) open() error {
	if err := os.MkdirAll(filepath.Dir(rf.filename), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(rf.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rf.file = f
	rf.size = info.Size()
	return nil
}
