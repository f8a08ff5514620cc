// Package lockfile defends a data directory against being opened by more
// than one coordinator instance at once (SPEC_FULL.md §4.14, resolving
// spec.md §9's open question on multi-handle protection). The uuid+pid
// token and O_EXCL-then-stale-reclaim pattern follow the teacher's own
// defensive-open idiom, adapted to use google/uuid for the token instead
// of a hand-rolled random string.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/guycipher/vectorkv/storageerr"
)

const fileName = "LOCK"

// Lock represents a held lockfile. Release must be called exactly once,
// typically from the coordinator's Close path.
type Lock struct {
	path string
}

// Acquire creates <dir>/LOCK exclusively. If a lockfile already exists and
// names a still-running process, AlreadyExists is returned; if the named
// process is gone, the stale lockfile is removed and acquisition is
// retried once.
func Acquire(dir string) (*Lock, error) {
	const op = "lockfile.Acquire"
	path := filepath.Join(dir, fileName)

	lock, err := tryCreate(path)
	if err == nil {
		return lock, nil
	}
	if !os.IsExist(err) {
		return nil, storageerr.New(op, storageerr.IoError, err)
	}

	pid, readErr := readPID(path)
	if readErr == nil && processAlive(pid) {
		return nil, storageerr.New(op, storageerr.AlreadyExists, fmt.Errorf("lockfile %s held by live pid %d", path, pid))
	}

	// Stale lock: reclaim and retry once.
	if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
		return nil, storageerr.New(op, storageerr.IoError, removeErr)
	}
	lock, err = tryCreate(path)
	if err != nil {
		return nil, storageerr.New(op, storageerr.IoError, err)
	}
	return lock, nil
}

func tryCreate(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := fmt.Sprintf("%s %d\n", uuid.NewString(), os.Getpid())
	if _, err := f.WriteString(token); err != nil {
		os.Remove(path)
		return nil, err
	}
	return &Lock{path: path}, nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return 0, fmt.Errorf("malformed lockfile contents %q", string(data))
	}
	return strconv.Atoi(fields[1])
}

// processAlive probes pid with signal 0 (Unix "is this pid alive"
// convention): no error or EPERM means it's alive; ESRCH means it's gone.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err != syscall.ESRCH
}

// Release removes the lockfile.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return storageerr.New("lockfile.Release", storageerr.IoError, err)
	}
	return nil
}
