// Package lock provides the single-instance lease lock taken by commands
// that mutate the hooks or trash directories.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jvs-project/hookctl/pkg/errclass"
	"github.com/jvs-project/hookctl/pkg/fsutil"
	"github.com/jvs-project/hookctl/pkg/model"
)

// FileName is the lock file name inside the logs directory.
const FileName = "hookctl.lock"

// Manager handles the lock file at a fixed path.
type Manager struct {
	path string
	ttl  time.Duration
	mu   sync.Mutex

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewManager creates a lock manager. Leases last ttl; an expired lease may be stolen.
func NewManager(path string, ttl time.Duration) *Manager {
	return &Manager{path: path, ttl: ttl, Now: time.Now}
}

// Path returns the lock file path.
func (m *Manager) Path() string {
	return m.path
}

// Acquire takes the lock for purpose. A held, unexpired lock is an
// errclass.ErrLockConflict; an expired one is stolen.
func (m *Manager) Acquire(purpose string) (*model.LockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	rec, err := m.create(purpose)
	if err == nil {
		return rec, nil
	}
	if !os.IsExist(err) {
		return nil, err
	}
	held, err := m.readLock()
	if err != nil {
		return nil, errclass.ErrLockConflict.WithMessagef("unreadable lock file %s: %v", m.path, err)
	}
	if !held.IsExpired(m.Now()) {
		return nil, conflict(held)
	}
	return m.steal(purpose)
}

// Release frees the lock if holderNonce still owns it.
func (m *Manager) Release(holderNonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.readLock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil // already released
		}
		return fmt.Errorf("read lock: %w", err)
	}

	if rec.HolderNonce != holderNonce {
		return errclass.ErrLockConflict.WithMessage("cannot release: lock was taken over")
	}

	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}

// Status returns the current lock state.
func (m *Manager) Status() (model.LockState, *model.LockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.readLock()
	if err != nil {
		if os.IsNotExist(err) {
			return model.LockStateFree, nil, nil
		}
		return model.LockStateFree, nil, fmt.Errorf("read lock: %w", err)
	}

	if rec.IsExpired(m.Now()) {
		return model.LockStateExpired, rec, nil
	}
	return model.LockStateHeld, rec, nil
}

// Renew extends the lease held by holderNonce by another ttl. An expired
// lease cannot be renewed since it may already be taken over.
func (m *Manager) Renew(holderNonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.readLock()
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}
	if rec.HolderNonce != holderNonce {
		return errclass.ErrLockConflict.WithMessage("cannot renew: lock was taken over")
	}
	now := m.Now().UTC()
	if rec.IsExpired(now) {
		return errclass.ErrLockConflict.WithMessage("cannot renew: lease expired")
	}
	rec.ExpiresAt = now.Add(m.ttl)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	if err := fsutil.AtomicWrite(m.path, data, 0644); err != nil {
		return fmt.Errorf("renew lock: %w", err)
	}
	return nil
}

// With runs fn while holding the lock, renewing the lease every half ttl
// until fn returns.
func (m *Manager) With(purpose string, fn func() error) error {
	rec, err := m.Acquire(purpose)
	if err != nil {
		return err
	}
	defer func() { _ = m.Release(rec.HolderNonce) }()

	if m.ttl > 0 {
		done := make(chan struct{})
		stopped := make(chan struct{})
		go m.keepAlive(rec.HolderNonce, done, stopped)
		defer func() {
			close(done)
			<-stopped
		}()
	}
	return fn()
}

func (m *Manager) keepAlive(holderNonce string, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := m.Renew(holderNonce); err != nil {
				return
			}
		}
	}
}

// steal replaces an expired lock. Stealers serialize on a guard file; the
// winner moves the stale lock aside and creates a fresh one with O_EXCL, so a
// lock created meanwhile by anyone else is never overwritten.
func (m *Manager) steal(purpose string) (*model.LockRecord, error) {
	guard := m.path + ".steal"
	g, err := os.OpenFile(guard, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create steal guard: %w", err)
		}
		// A guard older than one lease was left by a crashed stealer.
		if info, statErr := os.Stat(guard); statErr == nil && time.Since(info.ModTime()) > m.ttl {
			os.Remove(guard)
		}
		return nil, errclass.ErrLockConflict.WithMessage("lock is being taken over by another process")
	}
	g.Close()
	defer os.Remove(guard)

	held, err := m.readLock()
	switch {
	case os.IsNotExist(err):
		// Released since we looked.
	case err != nil:
		return nil, errclass.ErrLockConflict.WithMessagef("unreadable lock file %s: %v", m.path, err)
	case !held.IsExpired(m.Now()):
		return nil, conflict(held)
	default:
		aside := m.path + ".stale-" + held.HolderNonce
		if err := os.Rename(m.path, aside); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("steal lock: %w", err)
		}
		defer os.Remove(aside)
	}

	rec, err := m.create(purpose)
	if err != nil {
		if os.IsExist(err) {
			if cur, readErr := m.readLock(); readErr == nil {
				return nil, conflict(cur)
			}
			return nil, errclass.ErrLockConflict.WithMessage("lock was taken by another process")
		}
		return nil, err
	}
	return rec, nil
}

// create writes a fresh lock with O_EXCL. An existing lock yields an error
// satisfying os.IsExist.
func (m *Manager) create(purpose string) (*model.LockRecord, error) {
	file, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("create lock: %w", err)
	}
	defer file.Close()

	rec := m.newRecord(purpose)
	if err := writeLock(file, rec); err != nil {
		os.Remove(m.path)
		return nil, err
	}
	return rec, nil
}

func conflict(rec *model.LockRecord) error {
	return errclass.ErrLockConflict.WithMessagef("%s in progress (pid %d, since %s)",
		rec.Purpose, rec.PID, rec.AcquiredAt.Format(time.RFC3339))
}

func (m *Manager) newRecord(purpose string) *model.LockRecord {
	now := m.Now().UTC()
	host, _ := os.Hostname()
	return &model.LockRecord{
		HolderNonce: ulid.Make().String(),
		PID:         os.Getpid(),
		Host:        host,
		Purpose:     purpose,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(m.ttl),
	}
}

func (m *Manager) readLock() (*model.LockRecord, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	var rec model.LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse lock: %w", err)
	}
	return &rec, nil
}

func writeLock(file *os.File, rec *model.LockRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	return file.Sync()
}
