// Package artifact manages the per-request temporary files that carry source
// code to the obfuscation engine and its output back.
//
// Every file is created with a unique name inside the manager's directory and
// is owned by exactly one request. Callers acquire files through a Scope and
// defer Scope.Close so the files are removed on every exit path.
package artifact

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// namePrefix tags every file created by a Manager.
const namePrefix = "obf-"

// ErrScopeClosed is returned when acquiring through a scope that was already closed.
var ErrScopeClosed = errors.New("artifact scope closed")

// Metrics receives artifact lifecycle notifications.
type Metrics interface {
	ArtifactAcquired()
	ArtifactReleased()
}

// Manager creates artifacts inside a single directory.
type Manager struct {
	dir     string
	metrics Metrics
	active  atomic.Int64
}

// NewManager returns a manager rooted at dir. An empty dir selects a
// subdirectory of the system temp directory. The directory is created if needed.
func NewManager(dir string, metrics Metrics) (*Manager, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "obfuscator-api")
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	return &Manager{dir: absDir, metrics: metrics}, nil
}

// Dir returns the absolute directory artifacts are created in.
func (m *Manager) Dir() string {
	return m.dir
}

// Active returns the number of acquired artifacts not yet released.
func (m *Manager) Active() int64 {
	return m.active.Load()
}

// Acquire creates a uniquely named empty file ending in suffix.
// The caller owns the returned artifact and must Release it.
func (m *Manager) Acquire(suffix string) (*Artifact, error) {
	pattern := namePrefix + uuid.NewString() + "-*" + suffix
	f, err := os.CreateTemp(m.dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to close artifact: %w", err)
	}

	m.active.Add(1)
	if m.metrics != nil {
		m.metrics.ArtifactAcquired()
	}

	return &Artifact{path: path, mgr: m}, nil
}

// NewScope returns an empty scope bound to m.
func (m *Manager) NewScope() *Scope {
	return &Scope{mgr: m}
}

func (m *Manager) released() {
	m.active.Add(-1)
	if m.metrics != nil {
		m.metrics.ArtifactReleased()
	}
}

// Artifact is a temporary file owned by one request.
type Artifact struct {
	path string
	mgr  *Manager
	once sync.Once
}

// Path returns the absolute path of the file.
func (a *Artifact) Path() string {
	return a.path
}

// Write replaces the file content with data, byte for byte.
func (a *Artifact) Write(data []byte) error {
	if err := os.WriteFile(a.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

// ReadAll returns the file content.
func (a *Artifact) ReadAll() ([]byte, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Size returns the current file size in bytes.
func (a *Artifact) Size() (int64, error) {
	info, err := os.Stat(a.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Release deletes the file. Only the first call does any work; later calls
// return nil. A file that is already gone is not an error.
func (a *Artifact) Release() error {
	var err error
	a.once.Do(func() {
		if rmErr := os.Remove(a.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = fmt.Errorf("failed to remove artifact: %w", rmErr)
		}
		a.mgr.released()
	})
	return err
}

// Scope collects the artifacts of one request so they can be released together.
type Scope struct {
	mgr       *Manager
	mu        sync.Mutex
	artifacts []*Artifact
	closed    bool
}

// Acquire creates an artifact that will be released by Close.
func (s *Scope) Acquire(suffix string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrScopeClosed
	}

	a, err := s.mgr.Acquire(suffix)
	if err != nil {
		return nil, err
	}
	s.artifacts = append(s.artifacts, a)
	return a, nil
}

// Len returns the number of artifacts acquired through the scope.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.artifacts)
}

// Close releases every artifact in reverse acquisition order. All artifacts
// are attempted even if some fail; the failures are joined. Close is idempotent.
func (s *Scope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for i := len(s.artifacts) - 1; i >= 0; i-- {
		if err := s.artifacts[i].Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Digest returns the hex BLAKE3-256 fingerprint of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
