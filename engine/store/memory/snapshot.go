package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// snapshotLockTimeout bounds how long Save/Load wait on another process.
const snapshotLockTimeout = 5 * time.Second

type snapshot struct {
	Indexes map[string]*index `json:"indexes"`
}

// Save writes the store to path as JSON. A sidecar flock keeps concurrent
// CLI invocations from interleaving writes; the file itself is replaced
// atomically via rename.
func (s *Store) Save(path string) error {
	unlock, err := acquireLock(path+".lock", snapshotLockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.RLock()
	data, err := json.Marshal(snapshot{Indexes: s.indexes})
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("memory: encode snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("memory: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("memory: replace snapshot: %w", err)
	}
	return nil
}

// Load replaces the store contents from a snapshot file. A missing file
// leaves the store empty rather than failing, so first runs need no setup.
func (s *Store) Load(path string) error {
	unlock, err := acquireLock(path+".lock", snapshotLockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("memory: read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("memory: decode snapshot: %w", err)
	}
	if snap.Indexes == nil {
		snap.Indexes = make(map[string]*index)
	}

	s.mu.Lock()
	s.indexes = snap.Indexes
	s.mu.Unlock()
	return nil
}

// acquireLock polls for the sidecar flock until the deadline passes.
func acquireLock(lockPath string, timeout time.Duration) (func(), error) {
	l := flock.New(lockPath)
	deadline := time.Now().Add(timeout)
	for {
		locked, err := l.TryLock()
		if err != nil {
			return nil, fmt.Errorf("memory: acquire lock %s: %w", lockPath, err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("memory: another process holds %s", lockPath)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
