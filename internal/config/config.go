// Package config holds the engine's tunable constants, loaded from a JSON
// file in the same style as a plain DBConfig. Every field here is read by
// some other package at construction time (cache shard/bucket sizing,
// skip-list level cap, compaction partitioning, write-buffer backing
// structure) — none are decorative. There is no third-party config
// library wired in here: see DESIGN.md for why plain JSON is the grounded
// choice for a tunables struct this flat.
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"lsmkv/internal/memtable"
)

// Engine holds every engine tunable.
type Engine struct {
	NumShards        int           `json:"num_shards"`
	CacheCapacity    int           `json:"cache_capacity"`
	CacheBuckets     int           `json:"cache_buckets"`
	SkipListMaxLevel int           `json:"skip_list_max_level"`
	Level0Threshold  int           `json:"level0_threshold"`
	FreezeThreshold  int           `json:"freeze_threshold"`
	FlushWorkerCount int           `json:"flush_worker_count"`
	WriteBufferKind  memtable.Kind `json:"write_buffer_kind"`
}

// Default returns the engine's baseline tunables.
func Default() Engine {
	return Engine{
		NumShards:        16,
		CacheCapacity:    256,
		CacheBuckets:     256,
		SkipListMaxLevel: 12,
		Level0Threshold:  4,
		FreezeThreshold:  1000,
		FlushWorkerCount: 2,
		WriteBufferKind:  memtable.SkipListBacked,
	}
}

// Load reads an Engine configuration from a JSON file at path, falling
// back to Default for any zero-valued field left unset by the file.
func Load(path string) (Engine, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return Engine{}, errors.Wrap(err, "config: open")
	}
	defer f.Close()

	var overrides Engine
	if err := json.NewDecoder(f).Decode(&overrides); err != nil {
		return Engine{}, errors.Wrap(err, "config: decode")
	}
	applyOverrides(&cfg, overrides)
	return cfg, nil
}

func applyOverrides(cfg *Engine, overrides Engine) {
	if overrides.NumShards != 0 {
		cfg.NumShards = overrides.NumShards
	}
	if overrides.CacheCapacity != 0 {
		cfg.CacheCapacity = overrides.CacheCapacity
	}
	if overrides.CacheBuckets != 0 {
		cfg.CacheBuckets = overrides.CacheBuckets
	}
	if overrides.SkipListMaxLevel != 0 {
		cfg.SkipListMaxLevel = overrides.SkipListMaxLevel
	}
	if overrides.Level0Threshold != 0 {
		cfg.Level0Threshold = overrides.Level0Threshold
	}
	if overrides.FreezeThreshold != 0 {
		cfg.FreezeThreshold = overrides.FreezeThreshold
	}
	if overrides.FlushWorkerCount != 0 {
		cfg.FlushWorkerCount = overrides.FlushWorkerCount
	}
	if overrides.WriteBufferKind != memtable.SkipListBacked {
		cfg.WriteBufferKind = overrides.WriteBufferKind
	}
}
