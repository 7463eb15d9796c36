// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package config holds the tunables of the index layer and loads them with
// viper from flags, LFIDX_* environment variables, .env files and an
// optional config file.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kianostad/lfidx/internal/concurrency/epoch"
	"github.com/kianostad/lfidx/internal/logging"
	"github.com/kianostad/lfidx/internal/storage/bwtree"
	"github.com/kianostad/lfidx/internal/storage/keys"
)

var plog = logger.GetLogger("config")

// EnvPrefix is prepended to every key when reading the environment, so
// leaf-node-size is read from LFIDX_LEAF_NODE_SIZE.
const EnvPrefix = "LFIDX"

// Keys understood by Load.
const (
	KeyLeafNodeSize     = "leaf-node-size"
	KeyInnerNodeSize    = "inner-node-size"
	KeyLeafMergeSize    = "leaf-merge-size"
	KeyMaxDeltaChain    = "max-delta-chain"
	KeyCompactKeyBudget = "compact-key-budget"
	KeyHashBuckets      = "hash-buckets"
	KeyEpochInterval    = "epoch-interval"
	KeyRetireBatch      = "retire-batch"
	KeyLogLevel         = "log-level"
)

// ErrInvalidConfig is returned for values no index could be built with.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every tunable of an index.
type Config struct {
	LeafNodeSize     int           `json:"leaf_node_size"`
	InnerNodeSize    int           `json:"inner_node_size"`
	LeafMergeSize    int           `json:"leaf_merge_size"`
	MaxDeltaChain    int           `json:"max_delta_chain"`
	CompactKeyBudget int           `json:"compact_key_budget"`
	HashBuckets      int           `json:"hash_buckets"`
	EpochInterval    time.Duration `json:"epoch_interval"`
	RetireBatch      int           `json:"retire_batch"`
	LogLevel         string        `json:"log_level"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		LeafNodeSize:     128,
		InnerNodeSize:    64,
		LeafMergeSize:    128 / 8,
		MaxDeltaChain:    8,
		CompactKeyBudget: keys.MaxPackedSize,
		HashBuckets:      1024,
		EpochInterval:    50 * time.Millisecond,
		RetireBatch:      epoch.DefaultRetireBatch,
		LogLevel:         "info",
	}
}

// Validate reports the first impossible value.
func (c Config) Validate() error {
	switch {
	case c.LeafNodeSize < 2:
		return errors.Wrapf(ErrInvalidConfig, "%s must be at least 2, got %d", KeyLeafNodeSize, c.LeafNodeSize)
	case c.InnerNodeSize < 3:
		return errors.Wrapf(ErrInvalidConfig, "%s must be at least 3, got %d", KeyInnerNodeSize, c.InnerNodeSize)
	case c.LeafMergeSize < 0 || c.LeafMergeSize*2 > c.LeafNodeSize:
		return errors.Wrapf(ErrInvalidConfig, "%s must be within [0, %d], got %d",
			KeyLeafMergeSize, c.LeafNodeSize/2, c.LeafMergeSize)
	case c.MaxDeltaChain < 1:
		return errors.Wrapf(ErrInvalidConfig, "%s must be at least 1, got %d", KeyMaxDeltaChain, c.MaxDeltaChain)
	case c.CompactKeyBudget < 0 || c.CompactKeyBudget > keys.MaxPackedSize:
		return errors.Wrapf(ErrInvalidConfig, "%s must be within [0, %d], got %d",
			KeyCompactKeyBudget, keys.MaxPackedSize, c.CompactKeyBudget)
	case c.HashBuckets <= 0 || c.HashBuckets&(c.HashBuckets-1) != 0:
		return errors.Wrapf(ErrInvalidConfig, "%s must be a power of 2, got %d", KeyHashBuckets, c.HashBuckets)
	case c.EpochInterval < 0:
		return errors.Wrapf(ErrInvalidConfig, "%s must not be negative, got %s", KeyEpochInterval, c.EpochInterval)
	case c.RetireBatch < 1:
		return errors.Wrapf(ErrInvalidConfig, "%s must be at least 1, got %d", KeyRetireBatch, c.RetireBatch)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return errors.Mark(errors.Wrapf(err, "%s", KeyLogLevel), ErrInvalidConfig)
	}
	return nil
}

// TreeOptions converts the node tuning into bwtree options.
func (c Config) TreeOptions(unique bool) bwtree.Options {
	return bwtree.Options{
		LeafNodeSize:  c.LeafNodeSize,
		InnerNodeSize: c.InnerNodeSize,
		LeafMergeSize: c.LeafMergeSize,
		MaxDeltaChain: c.MaxDeltaChain,
		Unique:        unique,
	}
}

// NewViper returns a viper instance with the defaults registered and the
// environment bound.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault(KeyLeafNodeSize, d.LeafNodeSize)
	v.SetDefault(KeyInnerNodeSize, d.InnerNodeSize)
	v.SetDefault(KeyLeafMergeSize, -1)
	v.SetDefault(KeyMaxDeltaChain, d.MaxDeltaChain)
	v.SetDefault(KeyCompactKeyBudget, d.CompactKeyBudget)
	v.SetDefault(KeyHashBuckets, d.HashBuckets)
	v.SetDefault(KeyEpochInterval, d.EpochInterval)
	v.SetDefault(KeyRetireBatch, d.RetireBatch)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	return v
}

// LoadEnv loads .env style files into the process environment. Missing
// files are skipped; variables already set are kept. Without arguments
// .env and .env.local are tried.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "load %s", f)
		}
	}
	return nil
}

// ReadFile merges a config file (any format viper understands) into v.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	plog.Infof("using config file %s", v.ConfigFileUsed())
	return nil
}

// Load reads a Config from v and validates it. A negative leaf-merge-size
// means one eighth of the leaf size.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		LeafNodeSize:     v.GetInt(KeyLeafNodeSize),
		InnerNodeSize:    v.GetInt(KeyInnerNodeSize),
		LeafMergeSize:    v.GetInt(KeyLeafMergeSize),
		MaxDeltaChain:    v.GetInt(KeyMaxDeltaChain),
		CompactKeyBudget: v.GetInt(KeyCompactKeyBudget),
		HashBuckets:      v.GetInt(KeyHashBuckets),
		EpochInterval:    v.GetDuration(KeyEpochInterval),
		RetireBatch:      v.GetInt(KeyRetireBatch),
		LogLevel:         v.GetString(KeyLogLevel),
	}
	if c.LeafMergeSize < 0 {
		c.LeafMergeSize = c.LeafNodeSize / 8
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// SetupFlags registers the configuration flags on cmd and binds them to v.
func SetupFlags(cmd *cobra.Command, v *viper.Viper) error {
	d := Default()
	flags := cmd.PersistentFlags()
	flags.Int(KeyLeafNodeSize, d.LeafNodeSize, "Entry count above which a leaf splits")
	flags.Int(KeyInnerNodeSize, d.InnerNodeSize, "Child count above which an inner node splits")
	flags.Int(KeyLeafMergeSize, -1, "Entry count below which a leaf merges into its left sibling (0 disables, -1 means leaf-node-size/8)")
	flags.Int(KeyMaxDeltaChain, d.MaxDeltaChain, "Delta chain length that triggers consolidation")
	flags.Int(KeyCompactKeyBudget, d.CompactKeyBudget, "Largest packed key width in bytes")
	flags.Int(KeyHashBuckets, d.HashBuckets, "Bucket count of hash indexes (power of 2)")
	flags.Duration(KeyEpochInterval, d.EpochInterval, "Background epoch advance interval (0 disables the reclaimer)")
	flags.Int(KeyRetireBatch, d.RetireBatch, "Retirements between amortized epoch advances")
	flags.String(KeyLogLevel, d.LogLevel, "Log level: debug, info, warn, error")
	return v.BindPFlags(flags)
}
