// Package pidfile implements the exclusive process-singleton lock at
// startup (one bridge process per replication slot), via an flock'd file
// at a fixed path derived from the slot name.
package pidfile

import (
	"fmt"
	"os"
	"syscall"
)

// Path returns the fixed pidfile path for a given replication slot.
func Path(slot string) string {
	return fmt.Sprintf("/tmp/bw_%s.pid", slot)
}

// Lock is a held, flock'd pidfile. It must be released exactly once, via
// Release, during shutdown.
type Lock struct {
	file *os.File
	path string
}

// Acquire opens (creating if absent, mode 0644) and exclusively locks the
// pidfile for slot, writing the current process id into it. Failure to
// acquire the lock (another instance already holds it) is a configuration
// error: always fatal, never subject to the error policy.
func Acquire(slot string) (*Lock, error) {
	path := Path(slot)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("pidfile: opening %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("pidfile: %s is locked by another process: %w", path, err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("pidfile: truncating %s: %w", path, err)
	}
	if _, err := f.WriteString(fmt.Sprintf("%d\n", os.Getpid())); err != nil {
		f.Close()
		return nil, fmt.Errorf("pidfile: writing %s: %w", path, err)
	}

	return &Lock{file: f, path: path}, nil
}

// Release unlocks, closes, and unlinks the pidfile. Safe to call once; a
// second call is a caller bug, not guarded against here.
func (l *Lock) Release() error {
	defer l.file.Close()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pidfile: removing %s: %w", l.path, err)
	}
	return nil
}
