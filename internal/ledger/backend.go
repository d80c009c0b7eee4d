package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNoLedger is returned by Backend.Load when nothing has been persisted yet.
var ErrNoLedger = errors.New("no ledger persisted")

// Backend is the byte-level storage behind a Store.
type Backend interface {
	// Load returns the persisted document, or ErrNoLedger if none exists.
	Load() ([]byte, error)
	// Save replaces the persisted document.
	Save(data []byte) error
	// Archive moves the persisted document aside and returns where it went.
	Archive(at time.Time) (string, error)
}

// DiskBackend keeps the ledger in a single JSON file.
type DiskBackend struct {
	path string
}

// NewDiskBackend returns a backend writing dir/filename, creating dir if needed.
func NewDiskBackend(dir, filename string) (*DiskBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	return &DiskBackend{path: filepath.Join(dir, filename)}, nil
}

// Path returns the ledger file location.
func (d *DiskBackend) Path() string { return d.path }

// Load reads the ledger file.
func (d *DiskBackend) Load() ([]byte, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoLedger
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return data, nil
}

// Save writes data atomically via a temp file + os.Rename.
func (d *DiskBackend) Save(data []byte) (err error) {
	// Same directory so os.Rename is atomic.
	tmp, err := os.CreateTemp(filepath.Dir(d.path), "ledger-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to persist ledger: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist ledger: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist ledger: %w", err)
	}
	if err = os.Rename(tmpName, d.path); err != nil {
		return fmt.Errorf("failed to persist ledger: %w", err)
	}
	return nil
}

// Archive renames the ledger file to <file>.corrupted.<unix-millis>.json,
// keeping the original name (ledger.json.corrupted.1700000000000.json).
func (d *DiskBackend) Archive(at time.Time) (string, error) {
	dest := archiveName(d.path, at)
	if err := os.Rename(d.path, dest); err != nil {
		return "", fmt.Errorf("failed to archive ledger: %w", err)
	}
	return dest, nil
}

func archiveName(path string, at time.Time) string {
	return fmt.Sprintf("%s.corrupted.%d.json", path, at.UnixMilli())
}

// MemoryBackend is an in-process Backend for tests.
type MemoryBackend struct {
	mu       sync.Mutex
	data     []byte
	archived map[string][]byte
	saves    int
	// SaveErr, when set, is returned by every Save call.
	SaveErr error
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{archived: make(map[string][]byte)}
}

// Seed sets the stored document directly, bypassing Save.
func (m *MemoryBackend) Seed(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
}

func (m *MemoryBackend) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrNoLedger
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryBackend) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

func (m *MemoryBackend) Archive(at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := archiveName("ledger.json", at)
	m.archived[name] = m.data
	m.data = nil
	return name, nil
}

// Saves reports how many successful Save calls have happened.
func (m *MemoryBackend) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Archived returns the names of archived documents.
func (m *MemoryBackend) Archived() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.archived))
	for n := range m.archived {
		names = append(names, n)
	}
	return names
}
