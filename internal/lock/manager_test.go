package lock_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jvs-project/hookctl/internal/lock"
	"github.com/jvs-project/hookctl/pkg/errclass"
	"github.com/jvs-project/hookctl/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *lock.Manager {
	return lock.NewManager(filepath.Join(t.TempDir(), "logs", lock.FileName), time.Minute)
}

func TestManager_Acquire(t *testing.T) {
	mgr := newManager(t)

	rec, err := mgr.Acquire("purge")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.HolderNonce)
	assert.Equal(t, os.Getpid(), rec.PID)
	assert.Equal(t, "purge", rec.Purpose)
	assert.Equal(t, time.Minute, rec.ExpiresAt.Sub(rec.AcquiredAt))
	assert.FileExists(t, mgr.Path())
}

func TestManager_Acquire_Conflict(t *testing.T) {
	mgr := newManager(t)

	_, err := mgr.Acquire("purge")
	require.NoError(t, err)

	_, err = mgr.Acquire("sweep")
	require.ErrorIs(t, err, errclass.ErrLockConflict)
	assert.Contains(t, err.Error(), "purge in progress")
}

func TestManager_Acquire_StealsExpired(t *testing.T) {
	mgr := newManager(t)
	first, err := mgr.Acquire("purge")
	require.NoError(t, err)

	mgr.Now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	second, err := mgr.Acquire("restore")
	require.NoError(t, err)
	assert.NotEqual(t, first.HolderNonce, second.HolderNonce)

	// The previous holder can no longer release.
	require.ErrorIs(t, mgr.Release(first.HolderNonce), errclass.ErrLockConflict)
	require.NoError(t, mgr.Release(second.HolderNonce))
}

func TestManager_Acquire_ConcurrentStealHasOneWinner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", lock.FileName)
	_, err := lock.NewManager(path, time.Minute).Acquire("purge")
	require.NoError(t, err)

	// Separate managers stand in for separate processes.
	const contenders = 8
	later := func() time.Time { return time.Now().Add(2 * time.Minute) }
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*model.LockRecord
		losers  []error
	)
	for i := 0; i < contenders; i++ {
		mgr := lock.NewManager(path, time.Minute)
		mgr.Now = later
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := mgr.Acquire("sweep")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				losers = append(losers, err)
				return
			}
			winners = append(winners, rec)
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	for _, err := range losers {
		assert.ErrorIs(t, err, errclass.ErrLockConflict)
	}

	check := lock.NewManager(path, time.Minute)
	check.Now = later
	state, rec, err := check.Status()
	require.NoError(t, err)
	assert.Equal(t, model.LockStateHeld, state)
	assert.Equal(t, winners[0].HolderNonce, rec.HolderNonce)

	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestManager_Acquire_StaleStealGuard(t *testing.T) {
	mgr := newManager(t)
	_, err := mgr.Acquire("purge")
	require.NoError(t, err)
	guard := mgr.Path() + ".steal"
	require.NoError(t, os.WriteFile(guard, nil, 0644))

	mgr.Now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = mgr.Acquire("sweep")
	require.ErrorIs(t, err, errclass.ErrLockConflict)
	assert.FileExists(t, guard)

	old := time.Now().Add(-2 * time.Minute)
	require.NoError(t, os.Chtimes(guard, old, old))
	_, err = mgr.Acquire("sweep")
	require.ErrorIs(t, err, errclass.ErrLockConflict)
	assert.NoFileExists(t, guard)

	_, err = mgr.Acquire("sweep")
	require.NoError(t, err)
}

func TestManager_Acquire_CorruptLock(t *testing.T) {
	mgr := newManager(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(mgr.Path()), 0755))
	require.NoError(t, os.WriteFile(mgr.Path(), []byte("{not json"), 0644))

	_, err := mgr.Acquire("purge")
	require.ErrorIs(t, err, errclass.ErrLockConflict)
}

func TestManager_Release(t *testing.T) {
	mgr := newManager(t)
	rec, err := mgr.Acquire("purge")
	require.NoError(t, err)

	require.NoError(t, mgr.Release(rec.HolderNonce))
	assert.NoFileExists(t, mgr.Path())

	// Releasing twice is fine.
	require.NoError(t, mgr.Release(rec.HolderNonce))
}

func TestManager_Status(t *testing.T) {
	mgr := newManager(t)

	state, rec, err := mgr.Status()
	require.NoError(t, err)
	assert.Equal(t, model.LockStateFree, state)
	assert.Nil(t, rec)

	_, err = mgr.Acquire("purge")
	require.NoError(t, err)
	state, rec, err = mgr.Status()
	require.NoError(t, err)
	assert.Equal(t, model.LockStateHeld, state)
	assert.Equal(t, "purge", rec.Purpose)

	mgr.Now = func() time.Time { return time.Now().Add(time.Hour) }
	state, _, err = mgr.Status()
	require.NoError(t, err)
	assert.Equal(t, model.LockStateExpired, state)
}

func TestManager_With(t *testing.T) {
	mgr := newManager(t)

	ran := false
	err := mgr.With("sweep", func() error {
		ran = true
		_, err := mgr.Acquire("other")
		assert.ErrorIs(t, err, errclass.ErrLockConflict)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.NoFileExists(t, mgr.Path())
}

func TestManager_Renew(t *testing.T) {
	mgr := newManager(t)
	rec, err := mgr.Acquire("purge")
	require.NoError(t, err)

	mgr.Now = func() time.Time { return time.Now().Add(30 * time.Second) }
	require.NoError(t, mgr.Renew(rec.HolderNonce))
	_, renewed, err := mgr.Status()
	require.NoError(t, err)
	assert.True(t, renewed.ExpiresAt.After(rec.ExpiresAt))
	assert.True(t, rec.AcquiredAt.Equal(renewed.AcquiredAt))

	require.ErrorIs(t, mgr.Renew("someone-else"), errclass.ErrLockConflict)

	mgr.Now = func() time.Time { return time.Now().Add(time.Hour) }
	require.ErrorIs(t, mgr.Renew(rec.HolderNonce), errclass.ErrLockConflict)
}

func TestManager_With_RenewsLease(t *testing.T) {
	mgr := lock.NewManager(filepath.Join(t.TempDir(), lock.FileName), 200*time.Millisecond)

	err := mgr.With("purge", func() error {
		time.Sleep(500 * time.Millisecond)
		state, _, err := mgr.Status()
		require.NoError(t, err)
		assert.Equal(t, model.LockStateHeld, state)
		return nil
	})
	require.NoError(t, err)
	assert.NoFileExists(t, mgr.Path())
}
