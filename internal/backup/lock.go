package backup

import (
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"
)

// LockFile is created in the backup directory while a create, restore or
// prune runs.
const LockFile = ".keeper.lock"

// dirLock serializes operations on a backup directory, both inside this
// process and across processes sharing the directory.
type dirLock struct {
	held atomic.Bool
	file *flock.Flock
}

func newDirLock(dir string) *dirLock {
	return &dirLock{file: flock.New(filepath.Join(dir, LockFile))}
}

// acquire takes the lock without waiting. It returns ErrBusy when the lock
// is held elsewhere.
func (l *dirLock) acquire() (func(), error) {
	if !l.held.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	ok, err := l.file.TryLock()
	if err != nil {
		l.held.Store(false)
		return nil, fmt.Errorf("locking backup dir: %w", err)
	}
	if !ok {
		l.held.Store(false)
		return nil, ErrBusy
	}
	return func() {
		l.file.Unlock()
		l.held.Store(false)
	}, nil
}
