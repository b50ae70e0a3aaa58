package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

// AcquireLock takes an exclusive advisory lock next to the database so
// a second aggregator pointed at the same file fails fast instead of
// fighting over the pipeline. The caller holds the returned lock for
// the process lifetime.
func AcquireLock(dbPath string) (*flock.Flock, error) {
	lockPath := dbPath + ".lock"
	if dir := filepath.Dir(lockPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating lock directory: %w", err)
		}
	}

	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return nil, domain.ErrAlreadyLocked
	}
	return lock, nil
}
