// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package epoch provides epoch-based memory reclamation for the lock-free index engines.
//
// Operations enter the current epoch before touching shared structures and exit
// when done. Memory unlinked by a structural change is not reused at once:
// it is retired into the current epoch's list and its destructor only runs
// after every operation that entered at or before that epoch has exited.
//
// # Key Features
//
//   - Non-blocking Enter/Exit registration backed by a concurrent map
//   - Per-epoch retirement lists with caller supplied destructors
//   - Advance opens a new epoch once every participant has caught up
//   - Amortized advancing after a configurable number of retirements
//   - Cache line padded global epoch to keep the hot counter uncontended
//
// # Usage Examples
//
//	manager := epoch.NewManager()
//
//	g := manager.Enter()
//	defer g.Exit()
//
//	// ... unlink a node from the structure, then:
//	manager.Retire(func() { pool.Put(node) })
//
//	// Later, from a maintenance hook:
//	manager.Advance()
//
// # Dangers and Warnings
//
//   - **Leaked Guards**: A guard that never exits pins its epoch and stalls
//     reclamation for the whole manager. Pending retirements then grow without
//     bound. Always pair Enter with a deferred Exit.
//   - **Retire After Unlink**: Retire an item only once it can no longer be
//     reached from the structure, otherwise a later operation may observe it
//     after its destructor ran.
//   - **Destructor Cost**: Destructors run on whichever goroutine calls Advance.
//     Keep them short (returning memory to a pool).
//
// # Thread Safety
//
// All methods are safe for concurrent use. A single Guard must not be used
// from more than one goroutine.
//
// # Memory Reclamation Strategy
//
// Enter registers a participant pinned at epoch 0 and then publishes the
// global epoch it observed. Advance reads the global epoch g, computes the
// minimum epoch m <= g over all registered participants and runs the
// destructors of every list retired strictly before m. A participant that is
// missed by the scan registered after g was read, so its epoch is at least g
// and it cannot have observed anything retired before m.
package epoch

import (
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sys/cpu"
)

var plog = logger.GetLogger("epoch")

// DefaultRetireBatch is the number of retirements after which exiting guards
// advance the epoch on their own.
const DefaultRetireBatch = 64

// participant is the registration of one active guard.
type participant struct {
	epoch atomic.Uint64 // 0 while registering
}

// Manager tracks active participants and per-epoch retirement lists.
type Manager struct {
	_      cpu.CacheLinePad
	global atomic.Uint64
	_      cpu.CacheLinePad

	nextID       atomic.Uint64
	participants *xsync.MapOf[uint64, *participant]

	mu      sync.Mutex
	retired map[uint64][]func() // epoch -> destructors

	pending      atomic.Int64
	reclaimed    atomic.Uint64
	advances     atomic.Uint64
	sinceAdvance atomic.Int64
	retireBatch  int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetireBatch sets how many retirements trigger an amortized Advance on
// guard exit. Zero disables amortized advancing.
func WithRetireBatch(n int) Option {
	return func(m *Manager) { m.retireBatch = int64(n) }
}

// NewManager creates a new epoch manager starting at epoch 1.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		participants: xsync.NewMapOf[uint64, *participant](),
		retired:      make(map[uint64][]func()),
		retireBatch:  DefaultRetireBatch,
	}
	m.global.Store(1)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Guard is the registration of one operation in an epoch.
type Guard struct {
	m      *Manager
	id     uint64
	epoch  uint64
	exited bool
}

// Enter registers the caller in the current epoch.
func (m *Manager) Enter() *Guard {
	id := m.nextID.Add(1)
	p := &participant{}
	m.participants.Store(id, p)
	e := m.global.Load()
	p.epoch.Store(e)
	return &Guard{m: m, id: id, epoch: e}
}

// Epoch returns the epoch the guard entered in.
func (g *Guard) Epoch() uint64 { return g.epoch }

// Exit deregisters the guard. Calling it more than once is a no-op.
func (g *Guard) Exit() {
	if g == nil || g.exited {
		return
	}
	g.exited = true
	m := g.m
	m.participants.Delete(g.id)
	if m.retireBatch > 0 && m.sinceAdvance.Load() >= m.retireBatch {
		m.Advance()
	}
}

// Retire hands destroy to the current epoch. It runs once no participant
// that could have observed the retired item is still active.
func (m *Manager) Retire(destroy func()) {
	e := m.global.Load()
	m.mu.Lock()
	m.retired[e] = append(m.retired[e], destroy)
	m.mu.Unlock()
	m.pending.Add(1)
	m.sinceAdvance.Add(1)
}

// Advance opens a new epoch when every participant has reached the current
// one and reclaims the lists of fully drained epochs. It returns the number
// of destructors run.
func (m *Manager) Advance() int {
	g := m.global.Load()
	minEpoch := m.minActive(g)
	if minEpoch == g && m.global.CompareAndSwap(g, g+1) {
		m.advances.Add(1)
	}
	m.sinceAdvance.Store(0)
	return m.reclaim(minEpoch)
}

// minActive returns the smallest participant epoch, bounded by ceiling.
func (m *Manager) minActive(ceiling uint64) uint64 {
	minEpoch := ceiling
	m.participants.Range(func(_ uint64, p *participant) bool {
		if e := p.epoch.Load(); e < minEpoch {
			minEpoch = e
		}
		return true
	})
	return minEpoch
}

func (m *Manager) reclaim(before uint64) int {
	var ready [][]func()
	m.mu.Lock()
	for e, list := range m.retired {
		if e < before {
			ready = append(ready, list)
			delete(m.retired, e)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, list := range ready {
		for _, destroy := range list {
			destroy()
		}
		n += len(list)
	}
	if n > 0 {
		m.pending.Add(int64(-n))
		m.reclaimed.Add(uint64(n))
		plog.Debugf("reclaimed %d items retired before epoch %d", n, before)
	}
	return n
}

// Drain reclaims everything retired so far. It only succeeds when no guard is
// active and reports whether the retirement lists are empty afterwards.
func (m *Manager) Drain() bool {
	if m.ActiveCount() > 0 {
		return false
	}
	m.Advance()
	m.Advance()
	return m.Pending() == 0
}

// Current returns the global epoch.
func (m *Manager) Current() uint64 {
	return m.global.Load()
}

// MinActive returns the minimum epoch of the active participants.
// If no participant is active, returns the current epoch.
func (m *Manager) MinActive() uint64 {
	return m.minActive(m.global.Load())
}

// ActiveCount returns the number of active guards.
func (m *Manager) ActiveCount() int {
	return m.participants.Size()
}

// Pending returns the number of retired items waiting for reclamation.
func (m *Manager) Pending() int64 {
	return m.pending.Load()
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Epoch     uint64 `json:"epoch"`
	Active    int    `json:"active"`
	Pending   int64  `json:"pending"`
	Reclaimed uint64 `json:"reclaimed"`
	Advances  uint64 `json:"advances"`
}

// Stats returns the manager's counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Epoch:     m.global.Load(),
		Active:    m.ActiveCount(),
		Pending:   m.pending.Load(),
		Reclaimed: m.reclaimed.Load(),
		Advances:  m.advances.Load(),
	}
}
