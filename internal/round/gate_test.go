package round

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_SealWaitsForAdmissions(t *testing.T) {
	g := NewGate()
	release := g.Admit("r1")

	var sealed atomic.Bool
	done := make(chan struct{})
	go func() {
		unseal := g.Seal("r1")
		sealed.Store(true)
		unseal()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, sealed.Load(), "seal must wait for in-flight admission")

	release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("seal never acquired")
	}
	assert.True(t, sealed.Load())
}

func TestGate_AdmissionsShare(t *testing.T) {
	g := NewGate()
	var wg sync.WaitGroup
	var inside atomic.Int32
	var peak atomic.Int32
	start := make(chan struct{})
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			release := g.Admit("r1")
			n := inside.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	close(start)
	wg.Wait()
	assert.Greater(t, peak.Load(), int32(1))
}

func TestGate_RoundsIndependent(t *testing.T) {
	g := NewGate()
	unseal := g.Seal("r1")
	defer unseal()

	done := make(chan struct{})
	go func() {
		release := g.Admit("r2")
		release()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("admission on another round blocked by seal")
	}
}

func TestGate_EntriesReleased(t *testing.T) {
	g := NewGate()
	a := g.Admit("r1")
	b := g.Admit("r1")
	c := g.Admit("r2")
	require.Equal(t, 2, g.size())

	a()
	b()
	assert.Equal(t, 1, g.size())
	c()
	s := g.Seal("r1")
	s()
	assert.Zero(t, g.size())
}
