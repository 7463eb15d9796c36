// Licensed under the MIT License. See LICENSE file in the project root for details.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kianostad/lfidx/internal/catalog"
	"github.com/kianostad/lfidx/internal/config"
	core "github.com/kianostad/lfidx/internal/core"
	"github.com/kianostad/lfidx/internal/monitoring/metrics"
	"github.com/kianostad/lfidx/internal/types"
)

type REPL struct {
	index     core.Index
	keySchema *catalog.Schema
	metrics   *metrics.Metrics
	in        io.Reader
	out       io.Writer
}

// NewREPL builds a one-column index keyed by keyType and a REPL reading
// commands from in.
func NewREPL(cfg config.Config, typ core.IndexType, keyType types.TypeID, unique bool,
	m *metrics.Metrics, in io.Reader, out io.Writer) (*REPL, error) {
	table := catalog.NewSchema(catalog.NewColumn("key", keyType))
	constraint := core.ConstraintDefault
	if unique {
		constraint = core.ConstraintUnique
	}
	meta, err := core.NewIndexMetadata(core.MetadataSpec{
		Name:        "repl",
		Type:        typ,
		Constraint:  constraint,
		TupleSchema: table,
		KeySchema:   table,
		KeyAttrs:    []uint32{0},
		UniqueKeys:  unique,
	})
	if err != nil {
		return nil, err
	}
	opts := []core.Option{core.WithConfig(cfg)}
	if m != nil {
		opts = append(opts, core.WithMetrics(m))
	}
	idx, err := core.New(meta, opts...)
	if err != nil {
		return nil, err
	}
	return &REPL{index: idx, keySchema: table, metrics: m, in: in, out: out}, nil
}

func (r *REPL) Close(ctx context.Context) error {
	return r.index.Close(ctx)
}

func (r *REPL) Run() {
	fmt.Fprintln(r.out, "Latch-Free Index REPL")
	fmt.Fprintf(r.out, "%s\n", r.index.Metadata())
	fmt.Fprintln(r.out, "Commands: insert, delete, get, lookup, range, all, stats, metrics, check, quit")

	scanner := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		cmd := parts[0]
		if cmd == "quit" || cmd == "exit" {
			fmt.Fprintln(r.out, "Goodbye!")
			return
		}
		if err := r.exec(context.Background(), cmd, parts[1:]); err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
	}
}

var errUsage = errors.New("usage")

func usage(text string) error {
	return errors.Wrap(errUsage, text)
}

func (r *REPL) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "insert", "delete":
		if len(args) != 3 {
			return usage(cmd + " <key> <block> <offset>")
		}
		key, err := r.key(args[0])
		if err != nil {
			return err
		}
		loc, err := parseLocation(args[1], args[2])
		if err != nil {
			return err
		}
		if cmd == "insert" {
			if err := r.index.InsertEntry(ctx, key, loc); err != nil {
				return err
			}
			fmt.Fprintln(r.out, "OK")
			return nil
		}
		if err := r.index.DeleteEntry(ctx, key, loc); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "Deleted")

	case "get":
		if len(args) != 1 {
			return usage("get <key>")
		}
		key, err := r.key(args[0])
		if err != nil {
			return err
		}
		locs, err := r.index.ScanKey(ctx, key)
		if err != nil {
			return err
		}
		r.printLocations(locs)

	case "lookup":
		if len(args) != 1 {
			return usage("lookup <key>")
		}
		key, err := r.key(args[0])
		if err != nil {
			return err
		}
		loc, err := r.index.Lookup(ctx, key)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, loc)

	case "range":
		if len(args) < 2 || len(args) > 3 || (len(args) == 3 && args[2] != "desc") {
			return usage("range <low|-> <high|-> [desc]")
		}
		opts := core.RangeOptions{LowInclusive: true, HighInclusive: true, Descending: len(args) == 3}
		var err error
		if args[0] != "-" {
			if opts.Low, err = r.key(args[0]); err != nil {
				return err
			}
		}
		if args[1] != "-" {
			if opts.High, err = r.key(args[1]); err != nil {
				return err
			}
		}
		locs, err := r.index.ScanRange(ctx, opts)
		if err != nil {
			return err
		}
		r.printLocations(locs)

	case "all":
		entries, err := r.index.ScanAll(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(r.out, "%s -> %s\n", e.Key, e.Location)
		}
		fmt.Fprintf(r.out, "%d entries\n", len(entries))

	case "stats":
		s := r.index.Stats()
		fmt.Fprintf(r.out, "keys: %s, entries: %d, height: %d, pages: %d\n",
			r.index.Representation(), s.Entries, s.Height, s.Pages)
		fmt.Fprintf(r.out, "splits: %d, merges: %d, consolidations: %d, cas retries: %d\n",
			s.Splits, s.Merges, s.Consolidations, s.CASRetries)
		fmt.Fprintf(r.out, "epoch: %d, active guards: %d, pending: %d, reclaimed: %d, stalled: %t\n",
			s.Epoch, s.ActiveGuards, s.PendingRetired, s.Reclaimed, s.ReclaimStalled)

	case "metrics":
		if r.metrics == nil {
			return errors.New("metrics are disabled")
		}
		if err := r.metrics.Sync(ctx); err != nil {
			return err
		}
		fmt.Fprint(r.out, r.metrics.ExportPrometheus())

	case "check":
		if err := r.index.CheckInvariants(); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "OK")

	default:
		return errors.Newf("unknown command: %s", cmd)
	}
	return nil
}

func (r *REPL) key(text string) (*catalog.Tuple, error) {
	val, err := types.Parse(r.keySchema.Column(0).Type, text)
	if err != nil {
		return nil, err
	}
	if val.IsNull() {
		return nil, errors.New("key columns are not nullable")
	}
	return catalog.NewTupleFromValues(r.keySchema, val), nil
}

func (r *REPL) printLocations(locs []catalog.ItemPointer) {
	if len(locs) == 0 {
		fmt.Fprintln(r.out, "(no entries)")
		return
	}
	parts := make([]string, len(locs))
	for i, l := range locs {
		parts[i] = l.String()
	}
	fmt.Fprintln(r.out, strings.Join(parts, " "))
}

func parseLocation(block, offset string) (catalog.ItemPointer, error) {
	b, err := strconv.ParseUint(block, 10, 32)
	if err != nil {
		return catalog.ItemPointer{}, errors.Wrapf(err, "block %q", block)
	}
	o, err := strconv.ParseUint(offset, 10, 32)
	if err != nil {
		return catalog.ItemPointer{}, errors.Wrapf(err, "offset %q", offset)
	}
	return catalog.ItemPointer{Block: uint32(b), Offset: uint32(o)}, nil
}
