package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Lock is the advisory adapter-ownership record left on disk. Peers check
// whether the recorded pid is still alive before trusting it; a lock whose
// owner is gone is stale and may be reclaimed.
type Lock struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

// Alive reports whether the lock's owner process still exists.
func (l *Lock) Alive() bool {
	return pidAlive(l.PID)
}

// readLock loads the lock at path. A missing file returns (nil, nil); an
// unreadable one is treated the same after removal, since a torn lock
// cannot name a live owner.
func readLock(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read adapter lockfile: %w", err)
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil || lock.PID <= 0 {
		_ = os.Remove(path)
		return nil, nil
	}
	return &lock, nil
}

// writeLock records ownership of the adapter for the given pid.
func writeLock(path string, pid int, startedAt time.Time) error {
	data, err := json.Marshal(Lock{PID: pid, StartedAt: startedAt.UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode adapter lockfile: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write adapter lockfile: %w", err)
	}
	return nil
}

// removeLock clears the ownership record. Missing files are fine.
func removeLock(path string) {
	_ = os.Remove(path)
}
