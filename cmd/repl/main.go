// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package main provides an interactive REPL (Read-Eval-Print Loop) for the latch-free index.
//
// This command-line tool builds a single-column index and lets users insert,
// delete and scan entries through a simple command interface. It's useful for
// development, debugging and learning the index API.
//
// # Usage
//
// Start the REPL with a BIGINT key on a Bw-tree:
//
//	go run ./cmd/repl
//
// Use a unique hash index on VARCHAR keys:
//
//	go run ./cmd/repl --index-type hash --key-type varchar --unique
//
// Available commands:
//
//	insert <key> <block> <offset>  - Add an entry
//	delete <key> <block> <offset>  - Remove an entry
//	get <key>                      - List every location stored under key
//	lookup <key>                   - Show the first location of key
//	range <low|-> <high|-> [desc]  - Scan [low, high]; "-" leaves a side open
//	all                            - List every entry in key order
//	stats                          - Show structure and reclamation state
//	metrics                        - Print Prometheus metrics
//	check                          - Verify the structural invariants
//	quit, exit                     - Exit the REPL
//
// Example session:
//
//	> insert 42 1 7
//	OK
//	> get 42
//	(1,7)
//	> delete 42 1 7
//	Deleted
//	> lookup 42
//	Error: index "repl": key (42): entry not found
//	> quit
//	Goodbye!
//
// # Dangers and Warnings
//
//   - **Data Persistence**: The REPL uses an in-memory index. All entries are lost when the program exits.
//   - **Concurrent Access**: The REPL is single-threaded; use the bench tool for concurrency.
//
// # See Also
//
// For performance testing, see the bench tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"

	"github.com/kianostad/lfidx/internal/config"
	core "github.com/kianostad/lfidx/internal/core"
	"github.com/kianostad/lfidx/internal/logging"
	"github.com/kianostad/lfidx/internal/monitoring/metrics"
	"github.com/kianostad/lfidx/internal/types"
)

var plog = logger.GetLogger("cmd")

var (
	v = config.NewViper()

	rootCmd = &cobra.Command{
		Use:          "repl",
		Short:        "Interactive shell over a latch-free index",
		RunE:         run,
		SilenceUsage: true,
	}
)

func init() {
	if err := config.SetupFlags(rootCmd, v); err != nil {
		panic(err)
	}
	flags := rootCmd.Flags()
	flags.String("index-type", core.BwTree.String(), "Index engine: bwtree or hash")
	flags.String("key-type", types.BigInt.String(), "Key column type")
	flags.Bool("unique", false, "Reject a second entry for an existing key")
}

func run(cmd *cobra.Command, _ []string) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := logging.Init(cfg.LogLevel); err != nil {
		return err
	}

	indexType, err := core.ParseIndexType(v.GetString("index-type"))
	if err != nil {
		return err
	}
	keyType, err := types.ParseTypeID(v.GetString("key-type"))
	if err != nil {
		return err
	}

	m := metrics.New("repl")
	defer m.Close()

	repl, err := NewREPL(cfg, indexType, keyType, v.GetBool("unique"), m, os.Stdin, os.Stdout)
	if err != nil {
		return err
	}

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		if _, ok := <-sigChan; !ok {
			return
		}
		fmt.Println("\nReceived shutdown signal. Closing index...")
		if err := repl.Close(context.Background()); err != nil {
			plog.Errorf("close index: %v", err)
		}
		os.Exit(0)
	}()

	repl.Run()
	return repl.Close(context.Background())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
