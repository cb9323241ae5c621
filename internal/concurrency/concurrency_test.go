package concurrency

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	locker := NewKeyedLocker()

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock("session-a")
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak)
	assert.Equal(t, 0, locker.Len())
}

func TestKeyedLocker_IndependentKeys(t *testing.T) {
	locker := NewKeyedLocker()

	unlockA := locker.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := locker.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
	unlockA()
	assert.Equal(t, 0, locker.Len())
}

func TestGo_DeliversValue(t *testing.T) {
	res := <-Go(func() (int, error) { return 42, nil })
	require.NoError(t, res.Err)
	assert.Equal(t, 42, res.Value)

	boom := errors.New("boom")
	res = <-Go(func() (int, error) { return 0, boom })
	assert.ErrorIs(t, res.Err, boom)
}

func TestGo_RecoversPanic(t *testing.T) {
	res := <-Go(func() (string, error) { panic("kaboom") })

	var pe *PanicError
	require.ErrorAs(t, res.Err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.Equal(t, "panic: kaboom", res.Err.Error())
}
