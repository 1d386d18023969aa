// Package server implements the RCM server: function table, worker pools,
// job streams, and the packet dispatcher.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package server

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

type (
	// PoolConfig enumerates worker-pool creation parameters.
	PoolConfig struct {
		Name       string `json:"name"`
		Count      int    `json:"count"`
		Priority   uint8  `json:"priority"`
		OSPriority *int   `json:"os_priority,omitempty"`
		StackSize  int    `json:"stack_size,omitempty"`
		StackSeg   string `json:"stack_seg,omitempty"`
	}
	// Config carries server creation parameters. DefaultPool is pools[0];
	// with Count == 0 the dispatcher executes default-pool packets in-line.
	Config struct {
		Name        string       `json:"name"`
		DefaultPool PoolConfig   `json:"default_pool"`
		WorkerPools []PoolConfig `json:"worker_pools,omitempty"`
	}
)

func LoadConfig(b []byte) (*Config, error) {
	cfg := &Config{}
	if err := jsoniter.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrap(err, "server: invalid config")
	}
	return cfg, cfg.Validate()
}

func (cfg *Config) Marshal() []byte {
	b, err := jsoniter.Marshal(cfg)
	if err != nil {
		return nil
	}
	return b
}

func (cfg *Config) Validate() error {
	if cfg.DefaultPool.Count < 0 {
		return errors.Errorf("server: negative default-pool count %d", cfg.DefaultPool.Count)
	}
	for i := range cfg.WorkerPools {
		pc := &cfg.WorkerPools[i]
		if pc.Count <= 0 {
			return errors.Errorf("server: pool %q must have at least one worker", pc.Name)
		}
	}
	// static pool ids carry an 8-bit offset on the wire
	if n := len(cfg.WorkerPools) + 1; n > 256 {
		return errors.Errorf("server: too many pools (%d > 256)", n)
	}
	return nil
}
