package attendance

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLocker_SerializesSameKey(t *testing.T) {
	l := newKeyLocker()
	k := recordKey{EmployeeID: "emp-1", Date: WorkDate{Year: 2025, Month: time.March, Day: 10}}

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(k)
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, l.size(), "entries are released")
}

func TestKeyLocker_DifferentKeysDoNotContend(t *testing.T) {
	l := newKeyLocker()
	day := WorkDate{Year: 2025, Month: time.March, Day: 10}

	unlockA := l.Lock(recordKey{EmployeeID: "emp-1", Date: day})
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := l.Lock(recordKey{EmployeeID: "emp-2", Date: day})
		unlockC := l.Lock(recordKey{EmployeeID: "emp-1", Date: day.AddDays(1)})
		unlockC()
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
	assert.Equal(t, 1, l.size())
}
