// Licensed under the MIT License. See LICENSE file in the project root for details.

package epoch

import (
	"sync"
	"sync/atomic"
	"time"
)

// stallTicks is the number of consecutive ticks without progress, while work
// is pending, before a stall is reported.
const stallTicks = 20

// Reclaimer periodically advances a Manager from a background goroutine.
type Reclaimer struct {
	epochs   *Manager
	interval time.Duration
	stop     atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup

	stalled atomic.Bool
}

// NewReclaimer creates a reclaimer for epochs ticking every interval.
func NewReclaimer(epochs *Manager, interval time.Duration) *Reclaimer {
	return &Reclaimer{
		epochs:   epochs,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Starting a stopped reclaimer or one
// with a non-positive interval does nothing.
func (r *Reclaimer) Start() {
	if r.stop.Load() || r.interval <= 0 {
		return
	}

	r.wg.Add(1)
	go r.run()
}

// Stop ends the background loop and waits for it to exit.
func (r *Reclaimer) Stop() {
	if r.stop.Swap(true) {
		return
	}
	close(r.done)
	r.wg.Wait()
}

func (r *Reclaimer) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	idle := 0
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if r.collect() == 0 && r.epochs.Pending() > 0 {
				idle++
			} else {
				idle = 0
				r.stalled.Store(false)
			}
			if idle == stallTicks && !r.stalled.Swap(true) {
				plog.Warningf("reclamation stalled: %d items pending, oldest active epoch %d, current %d",
					r.epochs.Pending(), r.epochs.MinActive(), r.epochs.Current())
			}
		}
	}
}

func (r *Reclaimer) collect() int {
	return r.epochs.Advance()
}

// ForceCollect runs one advance cycle synchronously.
func (r *Reclaimer) ForceCollect() int {
	return r.collect()
}

// Stalled reports whether the loop has seen pending work without progress.
func (r *Reclaimer) Stalled() bool {
	return r.stalled.Load()
}
