// Package runlock keeps two sweeps from driving the same working directory at
// once. The lock is a directory created atomically with mkdir, holding a small
// owner file for diagnostics. A lock left by a process that no longer exists on
// this host is reclaimed.
package runlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	lockDirName   = ".sweep.lock"
	ownerFileName = "owner.json"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("working directory is locked")

// Owner describes the process holding a lock.
type Owner struct {
	PID       int    `json:"pid"`
	SweepID   string `json:"sweep_id,omitempty"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// Lock is a held run lock. The zero value is an unheld lock whose Release is a
// no-op.
type Lock struct {
	dir       string
	reclaimed *Owner
}

// Acquire takes the lock on workDir for sweepID. If the lock is held by a
// process on this host that has exited, the stale lock is removed and taken
// over; Reclaimed reports its previous owner.
func Acquire(workDir, sweepID string) (Lock, error) {
	target := strings.TrimSpace(workDir)
	if target == "" {
		return Lock{}, fmt.Errorf("working directory is required")
	}

	dir := filepath.Join(target, lockDirName)
	var reclaimed *Owner
	err := os.Mkdir(dir, 0o755)
	if os.IsExist(err) {
		owner, readErr := ReadOwner(target)
		if readErr != nil || owner.PID <= 0 {
			return Lock{}, fmt.Errorf("%w: %s", ErrLocked, target)
		}
		if !owner.stale() {
			return Lock{}, fmt.Errorf("%w: %s (pid=%d sweep=%s created_at=%s host=%s)",
				ErrLocked, target, owner.PID, owner.SweepID, owner.CreatedAt, owner.Hostname)
		}
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return Lock{}, fmt.Errorf("remove stale run lock for %s: %w", target, rmErr)
		}
		reclaimed = &owner
		// A concurrent acquirer may win the retry; it then holds a valid lock.
		err = os.Mkdir(dir, 0o755)
		if os.IsExist(err) {
			return Lock{}, fmt.Errorf("%w: %s", ErrLocked, target)
		}
	}
	if err != nil {
		return Lock{}, fmt.Errorf("acquire run lock for %s: %w", target, err)
	}

	owner := Owner{
		PID:       os.Getpid(),
		SweepID:   sweepID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	data, err := json.Marshal(owner)
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, ownerFileName), data, 0o644)
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return Lock{}, fmt.Errorf("write run lock owner for %s: %w", target, err)
	}

	return Lock{dir: dir, reclaimed: reclaimed}, nil
}

// Reclaimed returns the owner of a stale lock that Acquire took over.
func (l Lock) Reclaimed() (Owner, bool) {
	if l.reclaimed == nil {
		return Owner{}, false
	}
	return *l.reclaimed, true
}

// stale reports whether the owner was a process on this host that has exited.
// Owners on other hosts are never judged stale.
func (o Owner) stale() bool {
	return o.Hostname == hostnameOrUnknown() && !processAlive(o.PID)
}

// ReadOwner returns the owner recorded in workDir's lock.
func ReadOwner(workDir string) (Owner, error) {
	var owner Owner
	data, err := os.ReadFile(filepath.Join(workDir, lockDirName, ownerFileName))
	if err != nil {
		return owner, err
	}
	if err := json.Unmarshal(data, &owner); err != nil {
		return owner, fmt.Errorf("decode lock owner: %w", err)
	}
	return owner, nil
}

// Release removes the lock. Releasing twice is harmless.
func (l Lock) Release() error {
	if strings.TrimSpace(l.dir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.dir, ownerFileName))
	if err := os.Remove(l.dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release run lock %s: %w", l.dir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	if host = strings.TrimSpace(host); host == "" {
		return "unknown"
	}
	return host
}
