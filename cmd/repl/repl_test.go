// Licensed under the MIT License. See LICENSE file in the project root for details.

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/kianostad/lfidx/internal/config"
	core "github.com/kianostad/lfidx/internal/core"
	"github.com/kianostad/lfidx/internal/monitoring/metrics"
	"github.com/kianostad/lfidx/internal/types"
)

func session(typ core.IndexType, keyType types.TypeID, unique bool, script string) string {
	cfg := config.Default()
	cfg.EpochInterval = 0
	m := metrics.New("repl")
	defer m.Close()

	var out bytes.Buffer
	r, err := NewREPL(cfg, typ, keyType, unique, m, strings.NewReader(script), &out)
	So(err, ShouldBeNil)
	r.Run()
	So(r.Close(context.Background()), ShouldBeNil)
	return out.String()
}

func TestREPL(t *testing.T) {
	Convey("Given a REPL over a BIGINT tree", t, func() {
		out := session(core.BwTree, types.BigInt, false, strings.Join([]string{
			"insert 5 1 2",
			"insert 5 1 1",
			"insert 9 3 0",
			"insert 1 0 4",
			"get 5",
			"range 2 - ",
			"range - - desc",
			"delete 9 3 0",
			"delete 9 3 0",
			"all",
			"check",
			"bogus",
			"insert x 1 1",
			"quit",
			"insert 7 7 7",
		}, "\n"))

		Convey("Then entries are stored and scanned in order", func() {
			So(out, ShouldContainSubstring, "(1,1) (1,2)\n")
			So(out, ShouldContainSubstring, "(1,2) (1,1) (3,0)\n")
			So(out, ShouldContainSubstring, "(3,0) (1,1) (1,2) (0,4)\n")
			So(out, ShouldContainSubstring, "Deleted")
			So(out, ShouldContainSubstring, "entry not found")
			So(out, ShouldContainSubstring, "3 entries")
		})

		Convey("Then errors are reported and quit stops the loop", func() {
			So(out, ShouldContainSubstring, "unknown command: bogus")
			So(out, ShouldContainSubstring, `parse BIGINT "x"`)
			So(out, ShouldContainSubstring, "Goodbye!")
			So(out, ShouldNotContainSubstring, "(7,7)")
		})
	})

	Convey("Given a unique REPL over VARCHAR hash keys", t, func() {
		out := session(core.Hash, types.Varchar, true, strings.Join([]string{
			"insert bob 1 1",
			"insert bob 2 2",
			"lookup bob",
			"lookup alice",
			"stats",
			"metrics",
		}, "\n"))

		Convey("Then duplicates are rejected", func() {
			So(out, ShouldContainSubstring, "duplicate key")
			So(out, ShouldContainSubstring, "(1,1)\n")
			So(out, ShouldContainSubstring, "entry not found")
		})

		Convey("Then stats and metrics are printed", func() {
			So(out, ShouldContainSubstring, "keys: generic, entries: 1")
			So(out, ShouldContainSubstring, `lfidx_operations_total{index="repl",operation="insert"} 2`)
		})
	})

	Convey("Usage errors name the expected arguments", t, func() {
		out := session(core.BwTree, types.Integer, false, "insert 1\nrange 1\nget\n")
		So(out, ShouldContainSubstring, "insert <key> <block> <offset>")
		So(out, ShouldContainSubstring, "range <low|-> <high|-> [desc]")
		So(out, ShouldContainSubstring, "get <key>")
	})
}
