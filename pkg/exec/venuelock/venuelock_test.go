package venuelock

import (
	"sync"
	"testing"
)

func TestSerializesSameKey(t *testing.T) {
	tbl := NewTable()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := tbl.Acquire("simex", "BTCUSD")
			defer release()
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("lock admitted %d holders", maxSeen)
	}
}

func TestIndependentKeysDoNotBlock(t *testing.T) {
	tbl := NewTable()
	release := tbl.Acquire("simex", "BTCUSD")
	defer release()

	done := make(chan struct{})
	go func() {
		r := tbl.Acquire("simex", "ETHUSD")
		r()
		r = tbl.Acquire("otherex", "BTCUSD")
		r()
		close(done)
	}()
	<-done
}
