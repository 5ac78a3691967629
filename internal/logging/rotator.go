package logging

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// ErrClosed is returned by writes after Close
var ErrClosed = errors.New("log rotator closed")

// Rotator is an io.Writer over one file per day, named
// <prefix>_YYYY-MM-DD.log. When the day changes the previous file is
// closed and gzip-compressed in the background.
type Rotator struct {
	dir    string
	prefix string
	useUTC bool
	logger *logrus.Logger
	now    func() time.Time

	mutex       sync.Mutex
	currentFile *os.File
	currentDate string
	closed      bool

	compressing sync.WaitGroup
}

// NewRotator creates dir if needed and opens today's file
func NewRotator(dir, prefix string, useUTC bool, logger *logrus.Logger) (*Rotator, error) {
	return newRotator(dir, prefix, useUTC, logger, time.Now)
}

func newRotator(dir, prefix string, useUTC bool, logger *logrus.Logger, now func() time.Time) (*Rotator, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	r := &Rotator{
		dir:    dir,
		prefix: prefix,
		useUTC: useUTC,
		logger: logger,
		now:    now,
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.openLocked(r.today()); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}
	return r, nil
}

func (r *Rotator) today() string {
	now := r.now()
	if r.useUTC {
		now = now.UTC()
	}
	return now.Format(dateLayout)
}

func (r *Rotator) path(date string) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s_%s.log", r.prefix, date))
}

// Start rotates on the minute ticker so idle days still get closed and
// compressed. It returns when ctx is done.
func (r *Rotator) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mutex.Lock()
			if !r.closed {
				if err := r.rotateIfNeededLocked(); err != nil {
					r.logger.WithError(err).Error("Failed to rotate log file")
				}
			}
			r.mutex.Unlock()
		}
	}
}

// Write appends p to the file for the current day
func (r *Rotator) Write(p []byte) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	if err := r.rotateIfNeededLocked(); err != nil {
		return 0, err
	}
	return r.currentFile.Write(p)
}

func (r *Rotator) rotateIfNeededLocked() error {
	date := r.today()
	if date == r.currentDate {
		return nil
	}

	r.logger.WithFields(logrus.Fields{
		"old_date": r.currentDate,
		"new_date": date,
	}).Info("Rotating log file")

	if r.currentFile != nil {
		if err := r.currentFile.Close(); err != nil {
			r.logger.WithError(err).Error("Failed to close old log file")
		}
		old := r.path(r.currentDate)
		r.compressing.Add(1)
		go func() {
			defer r.compressing.Done()
			if err := compressFile(old); err != nil {
				r.logger.WithError(err).WithField("file", old).Error("Failed to compress log file")
				return
			}
			r.logger.WithField("file", old+".gz").Debug("Log file compressed")
		}()
	}
	return r.openLocked(date)
}

func (r *Rotator) openLocked(date string) error {
	name := r.path(date)
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", name, err)
	}
	r.currentFile = file
	r.currentDate = date
	r.logger.WithField("file", name).Info("Opened log file")
	return nil
}

// compressFile writes name.gz and removes name
func compressFile(name string) error {
	src, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(name + ".gz")
	if err != nil {
		return fmt.Errorf("failed to create compressed file: %w", err)
	}

	gz := gzip.NewWriter(dst)
	gz.Name = filepath.Base(name)
	gz.ModTime = time.Now()

	if _, err := io.Copy(gz, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return fmt.Errorf("failed to flush gzip stream: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close compressed file: %w", err)
	}
	return os.Remove(name)
}

// CurrentFile returns the path of the file being written
func (r *Rotator) CurrentFile() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.currentDate == "" {
		return ""
	}
	return r.path(r.currentDate)
}

// Files lists this rotator's files, compressed ones included
func (r *Rotator) Files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, r.prefix+"_*.log*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	return files, nil
}

// Cleanup removes files last modified more than maxDays ago, except the
// current one, and returns how many were removed
func (r *Rotator) Cleanup(maxDays int) (int, error) {
	if maxDays <= 0 {
		return 0, fmt.Errorf("maxDays must be positive")
	}

	files, err := r.Files()
	if err != nil {
		return 0, err
	}

	cutoff := r.now().AddDate(0, 0, -maxDays)
	current := r.CurrentFile()

	removed := 0
	for _, file := range files {
		if file == current {
			continue
		}
		info, err := os.Stat(file)
		if err != nil {
			r.logger.WithError(err).WithField("file", file).Warn("Failed to stat log file")
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(file); err != nil {
			r.logger.WithError(err).WithField("file", file).Error("Failed to remove old log file")
			continue
		}
		removed++
	}

	r.logger.WithField("count", removed).Info("Cleaned up old log files")
	return removed, nil
}

// Close closes the current file and waits for pending compressions
func (r *Rotator) Close() error {
	r.mutex.Lock()
	var err error
	if !r.closed {
		r.closed = true
		if r.currentFile != nil {
			err = r.currentFile.Close()
			r.currentFile = nil
		}
	}
	r.mutex.Unlock()

	r.compressing.Wait()
	return err
}
