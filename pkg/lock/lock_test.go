package lock_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	bnerrors "github.com/cmwaters/bnms/pkg/errors"
	"github.com/cmwaters/bnms/pkg/lock"
)

func TestAcquireRelease(t *testing.T) {
	s := lock.NewStorage()
	release, err := s.Acquire(lock.CreateNetwork, "MyBusinessNetwork")
	require.NoError(t, err)
	require.True(t, s.Held(lock.CreateNetwork, "MyBusinessNetwork"))

	_, err = s.Acquire(lock.CreateNetwork, "MyBusinessNetwork")
	require.ErrorIs(t, err, bnerrors.ErrDuplicateRequest)

	// same key under another kind does not contend
	other, err := s.Acquire(lock.GroupName, "MyBusinessNetwork")
	require.NoError(t, err)
	other()

	release()
	release()
	require.False(t, s.Held(lock.CreateNetwork, "MyBusinessNetwork"))
	release, err = s.Acquire(lock.CreateNetwork, "MyBusinessNetwork")
	require.NoError(t, err)
	release()
}

func TestAcquireAllRollsBack(t *testing.T) {
	s := lock.NewStorage()
	held, err := s.Acquire(lock.GroupName, "traders")
	require.NoError(t, err)
	defer held()

	_, err = s.AcquireAll(
		lock.Request{Kind: lock.CreateGroupID, Key: "g1"},
		lock.Request{Kind: lock.GroupName, Key: "traders"},
	)
	require.ErrorIs(t, err, bnerrors.ErrDuplicateRequest)
	require.False(t, s.Held(lock.CreateGroupID, "g1"))
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	s := lock.NewStorage()
	const n = 32
	var (
		wg      sync.WaitGroup
		mtx     sync.Mutex
		winners int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Acquire(lock.CreateGroupID, "g1"); err == nil {
				mtx.Lock()
				winners++
				mtx.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, winners)
}
