package testutil

import (
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

// AutoAdvance steps clk by step every time something is waiting on it, so
// code sleeping on the fake clock runs without real delays. It stops when the
// test ends.
func AutoAdvance(t *testing.T, clk *testingclock.FakeClock, step time.Duration) {
	t.Helper()

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if clk.HasWaiters() {
					clk.Step(step)
				}
			}
		}
	}()
	t.Cleanup(func() {
		close(done)
		<-stopped
	})
}
