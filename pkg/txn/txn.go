// Package txn rewrites a file in place behind a verified backup, restoring
// the backup if the write does not land.
package txn

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrBackupFailed means the backup could not be made or verified. The
	// original file has not been touched.
	ErrBackupFailed = errors.New("backup failed")
	// ErrWriteFailed means the new content did not land. The original was
	// restored from the backup.
	ErrWriteFailed = errors.New("write failed")
	// ErrUnrecoverable means the write failed and so did the restore. The
	// file on disk may be inconsistent and must be recovered from the backup
	// by hand.
	ErrUnrecoverable = errors.New("unrecoverable state")
	// ErrState is returned when a step is called out of order.
	ErrState = errors.New("invalid transaction state")
)

// BackupSuffix replaces the original's extension to name the backup.
const BackupSuffix = ".wgback"

// State is a step of the write transaction.
type State int

const (
	Idle State = iota
	BackedUp
	Written
	Committed
	RolledBack
	Aborted
	Unrecoverable
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case BackedUp:
		return "backed-up"
	case Written:
		return "written"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled-back"
	case Aborted:
		return "aborted"
	case Unrecoverable:
		return "unrecoverable"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// FS is the file access the writer needs.
type FS interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm fs.FileMode) error
	Stat(name string) (fs.FileInfo, error)
}

// OSFS is FS backed by the os package.
type OSFS struct{}

func (OSFS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }
func (OSFS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(name, data, perm)
}
func (OSFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

// BackupPath derives the backup location for path: same directory, the
// extension swapped for BackupSuffix ("/conf/config.xml" becomes
// "/conf/config.wgback").
func BackupPath(path string) string {
	ext := filepath.Ext(path)
	if ext == BackupSuffix {
		return path + BackupSuffix
	}
	return strings.TrimSuffix(path, ext) + BackupSuffix
}

// Writer runs one backup-write-verify transaction against Path. The backup
// is left on disk after a successful commit.
type Writer struct {
	Path       string
	BackupPath string

	fs    FS
	log   *zap.SugaredLogger
	state State
	perm  fs.FileMode
}

// NewWriter returns an idle Writer for path.
func NewWriter(path string, fsys FS, log *zap.SugaredLogger) *Writer {
	if fsys == nil {
		fsys = OSFS{}
	}
	return &Writer{
		Path:       path,
		BackupPath: BackupPath(path),
		fs:         fsys,
		log:        log,
		perm:       0o644,
	}
}

// State returns the current step.
func (w *Writer) State() State { return w.state }

// Backup copies Path to BackupPath and reads the copy back to verify it.
func (w *Writer) Backup() error {
	if w.state != Idle {
		return fmt.Errorf("%w: backup in state %s", ErrState, w.state)
	}

	if err := w.backup(); err != nil {
		w.state = Aborted
		w.log.Errorw("backup failed, not proceeding", "path", w.Path, "backup", w.BackupPath, "error", err)
		return fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}

	w.state = BackedUp
	w.log.Infow("backup written", "path", w.Path, "backup", w.BackupPath)
	return nil
}

func (w *Writer) backup() error {
	if info, err := w.fs.Stat(w.Path); err == nil {
		w.perm = info.Mode().Perm()
	}

	original, err := w.fs.ReadFile(w.Path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", w.Path, err)
	}
	if err := w.fs.WriteFile(w.BackupPath, original, w.perm); err != nil {
		return fmt.Errorf("writing %s: %w", w.BackupPath, err)
	}
	copied, err := w.fs.ReadFile(w.BackupPath)
	if err != nil {
		return fmt.Errorf("verifying %s: %w", w.BackupPath, err)
	}
	if !bytes.Equal(original, copied) {
		return fmt.Errorf("verifying %s: content differs from %s", w.BackupPath, w.Path)
	}
	return nil
}

// Write replaces Path with data and reads it back. On any failure the backup
// is copied over Path; the returned error wraps ErrWriteFailed when that
// restore worked and ErrUnrecoverable when it did not.
func (w *Writer) Write(data []byte) error {
	if w.state != BackedUp {
		return fmt.Errorf("%w: write in state %s", ErrState, w.state)
	}

	writeErr := w.write(data)
	if writeErr == nil {
		w.state = Written
		w.log.Infow("config written", "path", w.Path, "bytes", len(data))
		return nil
	}

	w.log.Warnw("write failed, restoring backup", "path", w.Path, "error", writeErr)
	if err := w.restore(); err != nil {
		w.state = Unrecoverable
		w.log.Errorw("restore failed, recover manually from backup",
			"path", w.Path, "backup", w.BackupPath, "error", err)
		return fmt.Errorf("%w: restoring %s from %s: %v (after write error: %w)",
			ErrUnrecoverable, w.Path, w.BackupPath, err, writeErr)
	}

	w.state = RolledBack
	w.log.Infow("backup restored", "path", w.Path)
	return fmt.Errorf("%w: %w", ErrWriteFailed, writeErr)
}

func (w *Writer) write(data []byte) error {
	if err := w.fs.WriteFile(w.Path, data, w.perm); err != nil {
		return fmt.Errorf("writing %s: %w", w.Path, err)
	}
	written, err := w.fs.ReadFile(w.Path)
	if err != nil {
		return fmt.Errorf("verifying %s: %w", w.Path, err)
	}
	if !bytes.Equal(written, data) {
		return fmt.Errorf("verifying %s: wrote %d bytes, read back %d differing bytes", w.Path, len(data), len(written))
	}
	return nil
}

func (w *Writer) restore() error {
	backup, err := w.fs.ReadFile(w.BackupPath)
	if err != nil {
		return err
	}
	if err := w.fs.WriteFile(w.Path, backup, w.perm); err != nil {
		return err
	}
	restored, err := w.fs.ReadFile(w.Path)
	if err != nil {
		return err
	}
	if !bytes.Equal(restored, backup) {
		return fmt.Errorf("restored content differs from backup")
	}
	return nil
}

// Commit finishes a successful write.
func (w *Writer) Commit() error {
	if w.state != Written {
		return fmt.Errorf("%w: commit in state %s", ErrState, w.state)
	}
	w.state = Committed
	return nil
}

// Replace runs Backup, Write and Commit in order.
func (w *Writer) Replace(data []byte) error {
	if err := w.Backup(); err != nil {
		return err
	}
	if err := w.Write(data); err != nil {
		return err
	}
	return w.Commit()
}
