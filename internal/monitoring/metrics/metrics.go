// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package metrics provides performance monitoring and observability for
// indexes.
//
// Operation events are recorded through a buffered channel and applied by a
// background goroutine, so recording never blocks an index operation. Counts
// live in a VictoriaMetrics set that renders the Prometheus text format;
// latencies are sampled into go-metrics histograms for percentile reporting.
// Structural and epoch figures are pulled from the index on demand through a
// Source callback.
//
// # Key Features
//
//   - Non-blocking recording of insert, delete and scan operations
//   - Duplicate-key and entry-not-found error counts
//   - Latency percentiles per operation from uniform reservoir samples
//   - Consolidation, split, merge and CAS retry figures from the engine
//   - Epoch figures: current epoch, active guards, pending retirements
//   - Prometheus text export and JSON export
//
// # Usage Examples
//
//	m := metrics.New("orders_pk")
//	defer m.Close()
//
//	start := time.Now()
//	// ... perform operation ...
//	m.Record(metrics.OpInsert, time.Since(start))
//
//	m.RecordError(metrics.ErrDuplicate)
//	m.SetSource(func() metrics.Structure { return idx.Structure() })
//
//	var buf bytes.Buffer
//	m.WritePrometheus(&buf)
//
// # Dangers and Warnings
//
//   - **Background Goroutine**: Requires cleanup with Close()
//   - **Event Loss**: If the buffer is full, events are dropped rather than
//     blocking the caller
//   - **Stats Latency**: Counts lag recording until the background loop has
//     applied them; call Sync before reading in tests
//
// # Best Practices
//
//   - Always call Close() when done with metrics
//   - Size the buffer for the peak operation rate between two loop iterations
//   - Export periodically to an external monitoring system
package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// Op identifies an index operation.
type Op uint8

const (
	OpInsert Op = iota
	OpDelete
	OpScanKey
	OpScanRange
	OpScanAll
	numOps
)

var opNames = [numOps]string{"insert", "delete", "scan_key", "scan_range", "scan_all"}

func (o Op) String() string {
	if o < numOps {
		return opNames[o]
	}
	return "unknown"
}

// ErrorKind identifies a reported operation failure.
type ErrorKind uint8

const (
	ErrDuplicate ErrorKind = iota
	ErrNotFound
	numErrors
)

var errorNames = [numErrors]string{"duplicate_key", "entry_not_found"}

func (e ErrorKind) String() string {
	if e < numErrors {
		return errorNames[e]
	}
	return "unknown"
}

// LatencyStats provides latency statistics for one operation.
type LatencyStats struct {
	Count int64         `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	P999  time.Duration `json:"p999"`
}

// OperationCounts tracks counts for all operation types.
type OperationCounts struct {
	Insert    uint64 `json:"insert"`
	Delete    uint64 `json:"delete"`
	ScanKey   uint64 `json:"scan_key"`
	ScanRange uint64 `json:"scan_range"`
	ScanAll   uint64 `json:"scan_all"`
}

// ErrorCounts tracks reported failures.
type ErrorCounts struct {
	Duplicate uint64 `json:"duplicate_key"`
	NotFound  uint64 `json:"entry_not_found"`
}

// LatencyMetrics tracks latency data for all operations.
type LatencyMetrics struct {
	Insert    LatencyStats `json:"insert"`
	Delete    LatencyStats `json:"delete"`
	ScanKey   LatencyStats `json:"scan_key"`
	ScanRange LatencyStats `json:"scan_range"`
	ScanAll   LatencyStats `json:"scan_all"`
}

// Structure is what an index reports about its shape and maintenance work.
type Structure struct {
	Entries        int64  `json:"entries"`
	Height         int64  `json:"height"`
	Pages          int64  `json:"pages"`
	Consolidations int64  `json:"consolidations"`
	Splits         int64  `json:"splits"`
	Merges         int64  `json:"merges"`
	RootGrows      int64  `json:"root_grows"`
	CASRetries     int64  `json:"cas_retries"`
	Epoch          uint64 `json:"epoch"`
	ActiveGuards   int64  `json:"active_guards"`
	PendingRetired int64  `json:"pending_retired"`
	Reclaimed      uint64 `json:"reclaimed"`
	ReclaimStalled bool   `json:"reclaim_stalled"`
}

// Snapshot provides a complete snapshot of all metrics.
type Snapshot struct {
	Index      string          `json:"index"`
	Operations OperationCounts `json:"operations"`
	Errors     ErrorCounts     `json:"errors"`
	Latency    LatencyMetrics  `json:"latency"`
	Structure  Structure       `json:"structure"`
	Config     Config          `json:"config"`
}

// Config provides configuration options for metrics collection.
type Config struct {
	BufferSize int `json:"buffer_size"` // size of the event buffer
	SampleSize int `json:"sample_size"` // reservoir size per latency histogram
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize: 10000,
		SampleSize: 1028,
	}
}

type eventType uint8

const (
	evOp eventType = iota
	evError
	evSync
)

type event struct {
	typ      eventType
	op       Op
	err      ErrorKind
	duration time.Duration
	done     chan struct{}
}

// Metrics tracks the metrics of one index.
type Metrics struct {
	name   string
	config Config

	eventChan chan event
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	set     *vm.Set
	ops     [numOps]*vm.Counter
	errs    [numErrors]*vm.Counter
	latency [numOps]gometrics.Histogram

	mu     sync.RWMutex
	source func() Structure

	// exportMu serializes exports; snap is the structure every gauge of
	// the export in progress reports.
	exportMu sync.Mutex
	snap     Structure
}

// New creates metrics for the index called name with the default
// configuration.
func New(name string) *Metrics {
	return NewWithConfig(name, DefaultConfig())
}

// NewWithConfig creates metrics with a custom configuration.
func NewWithConfig(name string, config Config) *Metrics {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.SampleSize <= 0 {
		config.SampleSize = DefaultConfig().SampleSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Metrics{
		name:      name,
		config:    config,
		eventChan: make(chan event, config.BufferSize),
		ctx:       ctx,
		cancel:    cancel,
		set:       vm.NewSet(),
	}

	label := sanitize(name)
	for op := Op(0); op < numOps; op++ {
		m.ops[op] = m.set.NewCounter(fmt.Sprintf(`lfidx_operations_total{index=%q,operation=%q}`, label, op))
		m.latency[op] = gometrics.NewHistogram(gometrics.NewUniformSample(config.SampleSize))
	}
	for e := ErrorKind(0); e < numErrors; e++ {
		m.errs[e] = m.set.NewCounter(fmt.Sprintf(`lfidx_errors_total{index=%q,kind=%q}`, label, e))
	}
	m.registerStructureGauges(label)

	m.wg.Add(1)
	go m.processEvents()

	return m
}

func (m *Metrics) registerStructureGauges(label string) {
	gauges := []struct {
		name string
		get  func(Structure) float64
	}{
		{"lfidx_entries", func(s Structure) float64 { return float64(s.Entries) }},
		{"lfidx_height", func(s Structure) float64 { return float64(s.Height) }},
		{"lfidx_pages", func(s Structure) float64 { return float64(s.Pages) }},
		{"lfidx_consolidations_total", func(s Structure) float64 { return float64(s.Consolidations) }},
		{"lfidx_splits_total", func(s Structure) float64 { return float64(s.Splits) }},
		{"lfidx_merges_total", func(s Structure) float64 { return float64(s.Merges) }},
		{"lfidx_root_grows_total", func(s Structure) float64 { return float64(s.RootGrows) }},
		{"lfidx_cas_retries_total", func(s Structure) float64 { return float64(s.CASRetries) }},
		{"lfidx_epoch", func(s Structure) float64 { return float64(s.Epoch) }},
		{"lfidx_epoch_active_guards", func(s Structure) float64 { return float64(s.ActiveGuards) }},
		{"lfidx_epoch_pending_retired", func(s Structure) float64 { return float64(s.PendingRetired) }},
		{"lfidx_epoch_reclaimed_total", func(s Structure) float64 { return float64(s.Reclaimed) }},
		{"lfidx_epoch_reclaim_stalled", func(s Structure) float64 {
			if s.ReclaimStalled {
				return 1
			}
			return 0
		}},
	}
	for _, g := range gauges {
		get := g.get
		m.set.NewGauge(fmt.Sprintf(`%s{index=%q}`, g.name, label), func() float64 {
			return get(m.snap)
		})
	}
}

// sanitize keeps label values to a conservative character set.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			return r
		}
		return '_'
	}, name)
}

// processEvents runs in the background goroutine and applies events.
func (m *Metrics) processEvents() {
	defer m.wg.Done()

	for {
		select {
		case ev := <-m.eventChan:
			m.processEvent(ev)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Metrics) processEvent(ev event) {
	switch ev.typ {
	case evOp:
		m.ops[ev.op].Inc()
		m.latency[ev.op].Update(int64(ev.duration))
	case evError:
		m.errs[ev.err].Inc()
	case evSync:
		close(ev.done)
	}
}

// Record records one completed operation.
func (m *Metrics) Record(op Op, duration time.Duration) {
	if op >= numOps {
		return
	}
	select {
	case m.eventChan <- event{typ: evOp, op: op, duration: duration}:
	default:
		// Channel full, drop the event to avoid blocking
	}
}

// RecordError records a reported failure.
func (m *Metrics) RecordError(kind ErrorKind) {
	if kind >= numErrors {
		return
	}
	select {
	case m.eventChan <- event{typ: evError, err: kind}:
	default:
	}
}

// Sync blocks until every event recorded before the call has been applied,
// or ctx is done.
func (m *Metrics) Sync(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case m.eventChan <- event{typ: evSync, done: done}:
	case <-m.ctx.Done():
		return m.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-m.ctx.Done():
		return m.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetSource installs the callback that reports structural figures.
func (m *Metrics) SetSource(source func() Structure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = source
}

func (m *Metrics) structure() Structure {
	m.mu.RLock()
	source := m.source
	m.mu.RUnlock()
	if source == nil {
		return Structure{}
	}
	return source()
}

func latencyStats(h gometrics.Histogram) LatencyStats {
	s := h.Snapshot()
	if s.Count() == 0 {
		return LatencyStats{}
	}
	ps := s.Percentiles([]float64{0.50, 0.95, 0.99, 0.999})
	return LatencyStats{
		Count: s.Count(),
		Min:   time.Duration(s.Min()),
		Max:   time.Duration(s.Max()),
		Mean:  time.Duration(s.Mean()),
		P50:   time.Duration(ps[0]),
		P95:   time.Duration(ps[1]),
		P99:   time.Duration(ps[2]),
		P999:  time.Duration(ps[3]),
	}
}

// GetStats returns a snapshot of current metrics.
func (m *Metrics) GetStats() Snapshot {
	return Snapshot{
		Index: m.name,
		Operations: OperationCounts{
			Insert:    m.ops[OpInsert].Get(),
			Delete:    m.ops[OpDelete].Get(),
			ScanKey:   m.ops[OpScanKey].Get(),
			ScanRange: m.ops[OpScanRange].Get(),
			ScanAll:   m.ops[OpScanAll].Get(),
		},
		Errors: ErrorCounts{
			Duplicate: m.errs[ErrDuplicate].Get(),
			NotFound:  m.errs[ErrNotFound].Get(),
		},
		Latency: LatencyMetrics{
			Insert:    latencyStats(m.latency[OpInsert]),
			Delete:    latencyStats(m.latency[OpDelete]),
			ScanKey:   latencyStats(m.latency[OpScanKey]),
			ScanRange: latencyStats(m.latency[OpScanRange]),
			ScanAll:   latencyStats(m.latency[OpScanAll]),
		},
		Structure: m.structure(),
		Config:    m.config,
	}
}

// WritePrometheus writes all metrics in the Prometheus text format. The
// structure source is called once per export.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.exportMu.Lock()
	defer m.exportMu.Unlock()
	m.snap = m.structure()
	m.set.WritePrometheus(w)
}

// ExportPrometheus returns the Prometheus text format as a string.
func (m *Metrics) ExportPrometheus() string {
	var buf bytes.Buffer
	m.WritePrometheus(&buf)
	return buf.String()
}

// ExportJSON exports metrics as JSON.
func (m *Metrics) ExportJSON() []byte {
	jsonData, _ := json.MarshalIndent(m.GetStats(), "", "  ")
	return jsonData
}

// Close shuts down the metrics processor. It is safe to call more than once.
func (m *Metrics) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
}
