package jlog

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/leengari/joydb/internal/dberrors"
)

// Locking selects how Open acquires (or refuses to acquire) the advisory
// lock on the log's underlying file.
type Locking int

const (
	// LockForce always attempts to take the lock, failing Open if it is
	// already held elsewhere.
	LockForce Locking = iota
	// LockForbid never takes the lock, for read-only utilities that must
	// not perturb a concurrent writer.
	LockForbid
	// LockIfWritable takes the lock only when the mode is ReadWrite or
	// CreateExclusive.
	LockIfWritable
)

func acquireLock(f *os.File, mode Mode, locking Locking) (bool, error) {
	want := false
	switch locking {
	case LockForce:
		want = true
	case LockForbid:
		want = false
	case LockIfWritable:
		want = mode != ReadOnly
	}
	if !want {
		return false, nil
	}

	flags := unix.LOCK_NB
	if mode == ReadOnly {
		flags |= unix.LOCK_SH
	} else {
		flags |= unix.LOCK_EX
	}

	if err := unix.Flock(int(f.Fd()), flags); err != nil {
		return false, dberrors.Wrap(dberrors.KindIO, err, "failed to lock %s", f.Name())
	}
	return true, nil
}

func releaseLock(f *os.File, held bool) error {
	if !held {
		return nil
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return dberrors.Wrap(dberrors.KindIO, err, "failed to unlock %s", f.Name())
	}
	return nil
}
