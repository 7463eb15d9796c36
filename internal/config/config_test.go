// Licensed under the MIT License. See LICENSE file in the project root for details.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/cobra"
)

func TestDefaults(t *testing.T) {
	Convey("Given the default configuration", t, func() {
		c := Default()

		Convey("It validates", func() {
			So(c.Validate(), ShouldBeNil)
		})

		Convey("Loading an empty viper yields the same values", func() {
			loaded, err := Load(NewViper())
			So(err, ShouldBeNil)
			So(loaded, ShouldResemble, c)
		})

		Convey("TreeOptions carries node sizes and uniqueness", func() {
			opts := c.TreeOptions(true)
			So(opts.LeafNodeSize, ShouldEqual, 128)
			So(opts.InnerNodeSize, ShouldEqual, 64)
			So(opts.LeafMergeSize, ShouldEqual, 16)
			So(opts.MaxDeltaChain, ShouldEqual, 8)
			So(opts.Unique, ShouldBeTrue)
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("Given broken configurations", t, func() {
		cases := []struct {
			name   string
			mutate func(*Config)
		}{
			{"tiny leaf", func(c *Config) { c.LeafNodeSize = 1 }},
			{"tiny inner", func(c *Config) { c.InnerNodeSize = 2 }},
			{"negative merge", func(c *Config) { c.LeafMergeSize = -2 }},
			{"merge above half", func(c *Config) { c.LeafMergeSize = c.LeafNodeSize/2 + 1 }},
			{"zero chain", func(c *Config) { c.MaxDeltaChain = 0 }},
			{"budget too large", func(c *Config) { c.CompactKeyBudget = 33 }},
			{"buckets not pow2", func(c *Config) { c.HashBuckets = 1000 }},
			{"zero buckets", func(c *Config) { c.HashBuckets = 0 }},
			{"negative interval", func(c *Config) { c.EpochInterval = -time.Second }},
			{"zero batch", func(c *Config) { c.RetireBatch = 0 }},
			{"unknown log level", func(c *Config) { c.LogLevel = "chatty" }},
		}

		for _, tc := range cases {
			Convey("Validate rejects "+tc.name, func() {
				c := Default()
				tc.mutate(&c)
				So(errors.Is(c.Validate(), ErrInvalidConfig), ShouldBeTrue)
			})
		}
	})
}

func TestLoadFromEnvironment(t *testing.T) {
	Convey("Given LFIDX_ environment variables", t, func() {
		t.Setenv("LFIDX_LEAF_NODE_SIZE", "256")
		t.Setenv("LFIDX_EPOCH_INTERVAL", "10ms")
		t.Setenv("LFIDX_LOG_LEVEL", "debug")

		c, err := Load(NewViper())
		So(err, ShouldBeNil)

		Convey("Then they override the defaults", func() {
			So(c.LeafNodeSize, ShouldEqual, 256)
			So(c.EpochInterval, ShouldEqual, 10*time.Millisecond)
			So(c.LogLevel, ShouldEqual, "debug")
		})

		Convey("Then the merge size follows the leaf size", func() {
			So(c.LeafMergeSize, ShouldEqual, 32)
		})
	})

	Convey("Given an invalid environment value", t, func() {
		t.Setenv("LFIDX_HASH_BUCKETS", "3")

		_, err := Load(NewViper())
		So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
	})
}

func TestLoadEnvFiles(t *testing.T) {
	Convey("Given a .env file", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, ".env")
		So(os.WriteFile(path, []byte("LFIDX_MAX_DELTA_CHAIN=3\n"), 0o600), ShouldBeNil)
		t.Cleanup(func() { os.Unsetenv("LFIDX_MAX_DELTA_CHAIN") })

		Convey("LoadEnv exports it and skips missing files", func() {
			So(LoadEnv(path, filepath.Join(dir, ".env.local")), ShouldBeNil)

			c, err := Load(NewViper())
			So(err, ShouldBeNil)
			So(c.MaxDeltaChain, ShouldEqual, 3)
		})
	})
}

func TestReadFile(t *testing.T) {
	Convey("Given a YAML config file", t, func() {
		path := filepath.Join(t.TempDir(), "lfidx.yaml")
		So(os.WriteFile(path, []byte("inner-node-size: 16\nleaf-merge-size: 0\n"), 0o600), ShouldBeNil)

		v := NewViper()
		So(ReadFile(v, path), ShouldBeNil)
		c, err := Load(v)
		So(err, ShouldBeNil)
		So(c.InnerNodeSize, ShouldEqual, 16)
		So(c.LeafMergeSize, ShouldEqual, 0)
	})

	Convey("Given a missing config file", t, func() {
		So(ReadFile(NewViper(), filepath.Join(t.TempDir(), "nope.yaml")), ShouldNotBeNil)
	})
}

func TestSetupFlags(t *testing.T) {
	Convey("Given a command with the config flags", t, func() {
		v := NewViper()
		cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
		So(SetupFlags(cmd, v), ShouldBeNil)

		Convey("Flags override defaults", func() {
			cmd.SetArgs([]string{"--leaf-node-size=64", "--retire-batch=8"})
			So(cmd.Execute(), ShouldBeNil)

			c, err := Load(v)
			So(err, ShouldBeNil)
			So(c.LeafNodeSize, ShouldEqual, 64)
			So(c.LeafMergeSize, ShouldEqual, 8)
			So(c.RetireBatch, ShouldEqual, 8)
		})
	})
}
