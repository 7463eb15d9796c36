// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package core provides the index facade consumed by the query executor.
//
// An index is built from an IndexMetadata. The factory inspects the key
// schema once and picks the physical key form: packed, byte-comparable keys
// when every key column is a non-nullable integer type and the key fits the
// compact budget, generic column-wise keys otherwise. The choice and the
// engine (BwTree or Hash) are fixed for the index's lifetime; every call
// encodes the key tuple and delegates to the engine.
//
// # Usage Examples
//
//	meta, err := core.NewIndexMetadata(core.MetadataSpec{
//	    Name:        "orders_pk",
//	    OID:         42,
//	    TableOID:    7,
//	    Type:        core.BwTree,
//	    Constraint:  core.ConstraintPrimaryKey,
//	    TupleSchema: tableSchema,
//	    KeySchema:   keySchema,
//	    KeyAttrs:    []uint32{0},
//	    UniqueKeys:  true,
//	})
//	if err != nil {
//	    return err
//	}
//
//	idx, err := core.New(meta)
//	if err != nil {
//	    return err
//	}
//	defer idx.Close(ctx)
//
//	if err := idx.InsertEntry(ctx, key, catalog.ItemPointer{Block: 1, Offset: 4}); errors.Is(err, core.ErrDuplicateKey) {
//	    // unique violation
//	}
//	locs, err := idx.ScanKey(ctx, key)
//
// # Dangers and Warnings
//
//   - **Key Tuples**: Key tuples must follow the key schema. A value of the
//     wrong type panics with an assertion failure instead of returning an
//     error; use IndexMetadata.ProjectKey to build keys from table tuples.
//   - **Shared Epochs**: When an epoch manager is passed with
//     WithEpochManager, the caller owns it and must keep advancing it.
//   - **Close**: Operations after Close fail with ErrIndexClosed. Close does
//     not wait for operations already running.
package core

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/kianostad/lfidx/internal/catalog"
	"github.com/kianostad/lfidx/internal/concurrency/epoch"
	"github.com/kianostad/lfidx/internal/config"
	"github.com/kianostad/lfidx/internal/monitoring/metrics"
	"github.com/kianostad/lfidx/internal/storage/bwtree"
	"github.com/kianostad/lfidx/internal/storage/hashindex"
	"github.com/kianostad/lfidx/internal/storage/keys"
)

var plog = logger.GetLogger("index")

var (
	// ErrDuplicateKey is returned when an insert collides with a live entry:
	// any entry with the same key in a unique index, or the same
	// (key, location) pair otherwise.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrEntryNotFound is returned when a delete or lookup names an absent entry.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrInvalidMetadata is returned for self-contradictory metadata.
	ErrInvalidMetadata = errors.New("invalid index metadata")
	// ErrIndexClosed is returned by operations on a closed index.
	ErrIndexClosed = errors.New("index closed")
)

// RangeOptions bounds a range scan. A nil bound leaves that side open.
type RangeOptions struct {
	Low           *catalog.Tuple
	High          *catalog.Tuple
	LowInclusive  bool
	HighInclusive bool
	Descending    bool
}

// Entry is a decoded (key, location) pair.
type Entry struct {
	Key      *catalog.Tuple
	Location catalog.ItemPointer
}

// Stats describes an index's structure and reclamation state.
type Stats = metrics.Structure

// Index is the operation surface of one index.
type Index interface {
	// InsertEntry adds (key, loc). It fails with ErrDuplicateKey.
	InsertEntry(ctx context.Context, key *catalog.Tuple, loc catalog.ItemPointer) error
	// DeleteEntry removes (key, loc). It fails with ErrEntryNotFound.
	DeleteEntry(ctx context.Context, key *catalog.Tuple, loc catalog.ItemPointer) error
	// ScanKey returns every location stored under key, ordered by location.
	ScanKey(ctx context.Context, key *catalog.Tuple) ([]catalog.ItemPointer, error)
	// Lookup returns the single location of key in a unique index, or the
	// smallest one otherwise. It fails with ErrEntryNotFound.
	Lookup(ctx context.Context, key *catalog.Tuple) (catalog.ItemPointer, error)
	// ScanRange returns the locations of the keys in the range in key order.
	ScanRange(ctx context.Context, opts RangeOptions) ([]catalog.ItemPointer, error)
	// ScanAll returns every entry in ascending key order.
	ScanAll(ctx context.Context) ([]Entry, error)

	Metadata() *IndexMetadata
	Representation() keys.Representation
	Len() int
	Stats() Stats
	CheckInvariants() error
	Close(ctx context.Context) error
}

// Option configures New.
type Option func(*options)

type options struct {
	config  config.Config
	epochs  *epoch.Manager
	metrics *metrics.Metrics
}

// WithConfig sets the tunables; config.Default is used otherwise.
func WithConfig(c config.Config) Option {
	return func(o *options) { o.config = c }
}

// WithEpochManager shares an epoch manager between indexes. The caller
// keeps ownership; the index neither advances it in the background nor
// drains it on Close.
func WithEpochManager(m *epoch.Manager) Option {
	return func(o *options) { o.epochs = m }
}

// WithMetrics reports operations and structure to m. The caller closes m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New builds an index for meta.
func New(meta *IndexMetadata, opts ...Option) (Index, error) {
	if meta == nil {
		return nil, errors.Wrap(ErrInvalidMetadata, "metadata is nil")
	}
	o := options{config: config.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}

	ks := meta.KeySchema()
	rep := keys.Choose(ks, o.config.CompactKeyBudget)
	plog.Debugf("index %q: %s keys for key schema %s", meta.Name(), rep, ks)
	if rep == keys.Packed {
		return build[keys.PackedKey](meta, keys.NewPackedPolicy(ks), o)
	}
	return build[keys.GenericKey](meta, keys.NewGenericPolicy(ks), o)
}

// index is the facade over one engine specialised for key type K.
type index[K any] struct {
	meta    *IndexMetadata
	policy  keys.Policy[K]
	engine  engine[K]
	epochs  *epoch.Manager
	ownsEpc bool
	reclaim *epoch.Reclaimer
	metrics *metrics.Metrics
	closed  atomic.Bool
}

func build[K any](meta *IndexMetadata, policy keys.Policy[K], o options) (Index, error) {
	ix := &index[K]{
		meta:    meta,
		policy:  policy,
		epochs:  o.epochs,
		metrics: o.metrics,
	}
	if ix.epochs == nil {
		ix.epochs = epoch.NewManager(epoch.WithRetireBatch(o.config.RetireBatch))
		ix.ownsEpc = true
	}

	switch meta.Type() {
	case Hash:
		h, err := hashindex.New[K, catalog.ItemPointer](policy, ix.epochs, hashindex.Options{
			Buckets:       uint64(o.config.HashBuckets),
			MaxDeltaChain: o.config.MaxDeltaChain,
			Unique:        meta.UniqueKeys(),
		})
		if err != nil {
			return nil, errors.Mark(err, ErrInvalidMetadata)
		}
		ix.engine = hashEngine[K]{Index: h, cmp: policy}
	default:
		t, err := bwtree.New[K, catalog.ItemPointer](policy, ix.epochs, o.config.TreeOptions(meta.UniqueKeys()))
		if err != nil {
			return nil, errors.Mark(err, ErrInvalidMetadata)
		}
		ix.engine = treeEngine[K]{Tree: t}
	}

	if ix.ownsEpc {
		ix.reclaim = epoch.NewReclaimer(ix.epochs, o.config.EpochInterval)
		ix.reclaim.Start()
	}
	if ix.metrics != nil {
		ix.metrics.SetSource(ix.Stats)
	}

	plog.Infof("created %s", meta)
	return ix, nil
}

func (ix *index[K]) check(ctx context.Context) error {
	if ix.closed.Load() {
		return ErrIndexClosed
	}
	return ctx.Err()
}

func (ix *index[K]) record(op metrics.Op, start time.Time) {
	if ix.metrics != nil {
		ix.metrics.Record(op, time.Since(start))
	}
}

func (ix *index[K]) recordError(kind metrics.ErrorKind) {
	if ix.metrics != nil {
		ix.metrics.RecordError(kind)
	}
}

func (ix *index[K]) InsertEntry(ctx context.Context, key *catalog.Tuple, loc catalog.ItemPointer) error {
	if err := ix.check(ctx); err != nil {
		return err
	}
	defer ix.record(metrics.OpInsert, time.Now())

	if !ix.engine.Insert(ix.policy.Encode(key), loc) {
		ix.recordError(metrics.ErrDuplicate)
		return errors.Wrapf(ErrDuplicateKey, "index %q: key %s location %s", ix.meta.Name(), key, loc)
	}
	return nil
}

func (ix *index[K]) DeleteEntry(ctx context.Context, key *catalog.Tuple, loc catalog.ItemPointer) error {
	if err := ix.check(ctx); err != nil {
		return err
	}
	defer ix.record(metrics.OpDelete, time.Now())

	if !ix.engine.Delete(ix.policy.Encode(key), loc) {
		ix.recordError(metrics.ErrNotFound)
		return errors.Wrapf(ErrEntryNotFound, "index %q: key %s location %s", ix.meta.Name(), key, loc)
	}
	return nil
}

func (ix *index[K]) ScanKey(ctx context.Context, key *catalog.Tuple) ([]catalog.ItemPointer, error) {
	if err := ix.check(ctx); err != nil {
		return nil, err
	}
	defer ix.record(metrics.OpScanKey, time.Now())

	locs := ix.engine.Get(ix.policy.Encode(key))
	slices.SortFunc(locs, compareLocations)
	return locs, nil
}

func (ix *index[K]) Lookup(ctx context.Context, key *catalog.Tuple) (catalog.ItemPointer, error) {
	locs, err := ix.ScanKey(ctx, key)
	if err != nil {
		return catalog.ItemPointer{}, err
	}
	if len(locs) == 0 {
		ix.recordError(metrics.ErrNotFound)
		return catalog.ItemPointer{}, errors.Wrapf(ErrEntryNotFound, "index %q: key %s", ix.meta.Name(), key)
	}
	return locs[0], nil
}

// scanBatch is the number of entries collected between context checks.
const scanBatch = 1024

func (ix *index[K]) ScanRange(ctx context.Context, opts RangeOptions) ([]catalog.ItemPointer, error) {
	if err := ix.check(ctx); err != nil {
		return nil, err
	}
	defer ix.record(metrics.OpScanRange, time.Now())

	r := bwtree.Range[K]{
		LowInclusive:  opts.LowInclusive,
		HighInclusive: opts.HighInclusive,
		Descending:    opts.Descending,
	}
	if opts.Low != nil {
		r.Low, r.HasLow = ix.policy.Encode(opts.Low), true
	}
	if opts.High != nil {
		r.High, r.HasHigh = ix.policy.Encode(opts.High), true
	}

	var out []catalog.ItemPointer
	it := ix.engine.Scan(r)
	for it.Next() {
		out = append(out, it.Value())
		if len(out)%scanBatch == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (ix *index[K]) ScanAll(ctx context.Context) ([]Entry, error) {
	if err := ix.check(ctx); err != nil {
		return nil, err
	}
	defer ix.record(metrics.OpScanAll, time.Now())

	var out []Entry
	it := ix.engine.Scan(bwtree.Range[K]{})
	for it.Next() {
		out = append(out, Entry{Key: ix.policy.Decode(it.Key()), Location: it.Value()})
		if len(out)%scanBatch == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (ix *index[K]) Metadata() *IndexMetadata {
	return ix.meta
}

func (ix *index[K]) Representation() keys.Representation {
	return ix.policy.Representation()
}

func (ix *index[K]) Len() int {
	return ix.engine.Len()
}

func (ix *index[K]) Stats() Stats {
	s := ix.engine.structure()
	es := ix.epochs.Stats()
	s.Epoch = es.Epoch
	s.ActiveGuards = int64(es.Active)
	s.PendingRetired = es.Pending
	s.Reclaimed = es.Reclaimed
	s.ReclaimStalled = ix.reclaim != nil && ix.reclaim.Stalled()
	return s
}

func (ix *index[K]) CheckInvariants() error {
	return ix.engine.CheckInvariants()
}

// Close stops the index's own reclaimer and releases retired memory. It is
// safe to call more than once.
func (ix *index[K]) Close(ctx context.Context) error {
	if ix.closed.Swap(true) {
		return nil
	}
	if ix.reclaim != nil {
		ix.reclaim.Stop()
	}
	ix.engine.Close()
	if ix.ownsEpc && !ix.epochs.Drain() {
		plog.Warningf("index %q closed with %d retired items still guarded", ix.meta.Name(), ix.epochs.Pending())
	}
	plog.Infof("closed index %q", ix.meta.Name())
	return ctx.Err()
}
