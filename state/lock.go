package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// staleLockAge is how old an abandoned lock file must be before its removal
// is logged as stale cleanup rather than silent recovery.
const staleLockAge = 300 * time.Second

// Lock is an exclusive advisory lock on the state directory. The lock file
// contains the owning PID; releasing deletes the file.
type Lock struct {
	fl   *flock.Flock
	path string
}

// AcquireLock claims the exclusive state lock in dir. If a lock file exists
// but is not actively held (a crashed process left it behind), it is removed
// and re-acquired. An actively held lock returns a LockError immediately;
// acquisition never waits.
func AcquireLock(dir string) (*Lock, error) {
	lockPath := filepath.Join(dir, "state.lock")

	if info, err := os.Stat(lockPath); err == nil {
		age := time.Since(info.ModTime())
		probe := flock.New(lockPath)
		locked, err := probe.TryLock()
		if err != nil || !locked {
			hint := ""
			if age > staleLockAge {
				hint = fmt.Sprintf(" (lock is older than %d seconds but still actively held)", int(staleLockAge.Seconds()))
			}
			return nil, &LockError{Message: fmt.Sprintf(
				"Another declarch process is currently running.\nLock file: %s%s\nWait for it to complete, or delete the lock file if you're sure no other process is running.",
				lockPath, hint)}
		}
		if age > staleLockAge {
			logrus.WithField("lock", lockPath).Warn("removing stale lock file (not actively locked)")
		}
		_ = probe.Unlock()
		_ = os.Remove(lockPath)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, &LockError{Message: fmt.Sprintf("failed to lock state file: %v", err)}
	}
	if !locked {
		return nil, &LockError{Message: "Another declarch process is currently running."}
	}
	if err := os.WriteFile(lockPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		logrus.WithError(err).Debug("could not record PID in lock file")
	}
	return &Lock{fl: fl, path: lockPath}, nil
}

// Release drops the lock and removes the lock file.
func (l *Lock) Release() {
	if l == nil || l.fl == nil {
		return
	}
	_ = l.fl.Unlock()
	_ = os.Remove(l.path)
	l.fl = nil
}
