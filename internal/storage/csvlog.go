package storage

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"flightlink/internal/telemetry"
)

const (
	// DefaultMaxFileBytes is the size at which a log file is rotated.
	DefaultMaxFileBytes = 10 << 20

	fileStamp     = "20060102-150405"
	diskReportRow = 100
)

var ErrClosed = errors.New("telemetry log closed")

// CSVLog is the append-only packet log. Every row is synced to disk before
// Write returns. When a file grows past the size limit a new timestamped
// file with its own header is started; earlier files are left as they are.
type CSVLog struct {
	dir      string
	maxBytes int64
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	file   *os.File
	path   string
	size   int64
	rows   int
	total  int
	closed bool
}

type Option func(*CSVLog)

func WithClock(now func() time.Time) Option {
	return func(l *CSVLog) {
		if now != nil {
			l.now = now
		}
	}
}

// Open creates dir if needed and starts a fresh log file in it.
func Open(dir string, maxBytes int64, log *slog.Logger, opts ...Option) (*CSVLog, error) {
	if log == nil {
		log = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	l := &CSVLog{dir: dir, maxBytes: maxBytes, log: log, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.rotate(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the file currently being appended to.
func (l *CSVLog) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Write appends one packet row.
func (l *CSVLog) Write(p telemetry.Packet) error {
	row, err := encodeRows(p.Fields())
	if err != nil {
		return fmt.Errorf("encode row %d: %w", p.Sequence, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.file == nil || (l.rows > 0 && l.size+int64(len(row)) > l.maxBytes) {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	n, err := l.file.Write(row)
	l.size += int64(n)
	if err == nil {
		err = l.file.Sync()
	}
	if err != nil {
		// The next Write starts over in a new file.
		l.file.Close()
		l.file = nil
		return fmt.Errorf("failed to write telemetry row: %w", err)
	}
	l.rows++
	l.total++
	if l.total%diskReportRow == 0 {
		l.reportDisk()
	}
	return nil
}

// WriteEmergency writes p to its own emergency_<seq>_<time>.csv file,
// independent of the main log and its lock.
func (l *CSVLog) WriteEmergency(p telemetry.Packet) (string, error) {
	return WriteEmergency(l.dir, p, l.now())
}

// WriteEmergency writes a standalone file holding the header and p.
func WriteEmergency(dir string, p telemetry.Packet, at time.Time) (string, error) {
	data, err := encodeRows(telemetry.Header, p.Fields())
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	base := fmt.Sprintf("emergency_%04d_%s", p.Sequence, at.Format(fileStamp))
	f, path, err := createUnique(dir, base)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return path, fmt.Errorf("failed to write emergency file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return path, fmt.Errorf("failed to sync emergency file: %w", err)
	}
	return path, nil
}

func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// rotate starts a new file. Caller holds mu.
func (l *CSVLog) rotate() error {
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			l.log.Warn("close telemetry log", "path", l.path, "err", err)
		}
		l.file = nil
	}

	f, path, err := createUnique(l.dir, "telemetry_"+l.now().Format(fileStamp))
	if err != nil {
		return err
	}
	header, _ := encodeRows(telemetry.Header)
	n, err := f.Write(header)
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}

	if l.path != "" {
		l.log.Info("telemetry log rotated", "previous", l.path, "rows", l.rows, "path", path)
	} else {
		l.log.Info("telemetry log opened", "path", path)
	}
	l.file, l.path, l.size, l.rows = f, path, int64(n), 0
	return nil
}

func (l *CSVLog) reportDisk() {
	free, total, err := diskSpace(l.dir)
	if err != nil {
		l.log.Debug("disk space unavailable", "err", err)
		return
	}
	used := 0.0
	if total > 0 {
		used = 100 * float64(total-free) / float64(total)
	}
	l.log.Info("storage status", "rows", l.total, "free_mb", free>>20, "used_pct", fmt.Sprintf("%.1f", used))
}

// createUnique opens base.csv, or base_N.csv when that name is taken.
func createUnique(dir, base string) (*os.File, string, error) {
	for i := 0; i < 100; i++ {
		name := base + ".csv"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.csv", base, i)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("failed to open log file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("failed to open log file: too many files named %s", base)
}

func encodeRows(rows ...[]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
