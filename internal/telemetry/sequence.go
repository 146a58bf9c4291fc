package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxSequence is the largest packet number; the next one wraps to 1.
const MaxSequence = 9999

type sequenceFile struct {
	PacketCount int    `json:"packet_count"`
	SavedAt     string `json:"saved_at"`
}

// Sequence is the packet counter. With a path it survives restarts.
type Sequence struct {
	path string
	log  *slog.Logger

	mu   sync.Mutex
	last int

	// serialises writers of the counter file
	saveMu sync.Mutex
}

// LoadSequence restores the counter from path. A missing or unreadable
// file starts the count from zero. An empty path keeps the counter in memory.
func LoadSequence(path string, log *slog.Logger) (*Sequence, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Sequence{path: path, log: log}
	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sequence directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("could not read packet counter, starting from zero", "path", path, "err", err)
		}
		return s, nil
	}

	var f sequenceFile
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn("corrupt packet counter, starting from zero", "path", path, "err", err)
		return s, nil
	}
	if f.PacketCount < 0 || f.PacketCount > MaxSequence {
		log.Warn("packet counter out of range, starting from zero", "value", f.PacketCount)
		return s, nil
	}
	s.last = f.PacketCount
	log.Info("packet counter restored", "last", s.last, "saved_at", f.SavedAt)
	return s, nil
}

// Last returns the most recently issued number, zero if none.
func (s *Sequence) Last() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Next issues the next packet number and persists it.
func (s *Sequence) Next() int {
	s.mu.Lock()
	n := s.last + 1
	if n > MaxSequence {
		n = 1
	}
	s.last = n
	s.mu.Unlock()

	s.persist()
	return n
}

func (s *Sequence) persist() {
	if s.path == "" {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	data, err := json.Marshal(sequenceFile{
		PacketCount: s.Last(),
		SavedAt:     time.Now().Format(time.RFC3339),
	})
	if err != nil {
		s.log.Warn("encode packet counter", "err", err)
		return
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		s.log.Warn("save packet counter", "path", s.path, "err", err)
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
