package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectorFoldsAcrossGoroutines(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.RecordAccess()
				c.RecordGet()
				c.RecordRxBytes(10)
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(8000), snap.Accesses)
	assert.Equal(t, int64(8000), snap.Gets)
	assert.Equal(t, int64(80000), snap.RxBytes)
	assert.Zero(t, snap.Misses)
}

func TestCollectorReset(t *testing.T) {
	c := NewCollector()
	c.RecordSet()
	c.RecordSkips(5)
	c.RecordTxBytes(100)

	c.Reset()

	snap := c.Snapshot()
	assert.Zero(t, snap.Sets)
	assert.Zero(t, snap.Skips)
	assert.Zero(t, snap.TxBytes)
}
