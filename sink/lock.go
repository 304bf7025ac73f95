package sink

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

const (
	lockFileName   = ".dataquality.lock"
	lockRetryDelay = 500 * time.Millisecond
)

// lockDir creates dir if needed and locks it, polling until the lock is acquired or ctx is done.
func lockDir(ctx context.Context, dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create output directory %q", dir)
	}
	lockPath := filepath.Join(dir, lockFileName)
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, errors.Wrapf(err, "while trying to lock %q", lockPath)
	}
	if !locked {
		return nil, errors.Errorf("failed to lock %q", lockPath)
	}
	return fileLock, nil
}

// unlock releases the lock, keeping the first error in err.
func unlock(fileLock *flock.Flock, err error) error {
	unlockErr := fileLock.Unlock()
	if unlockErr != nil && err == nil {
		return errors.Wrapf(unlockErr, "unlocking file %q", fileLock.Path())
	}
	return err
}
