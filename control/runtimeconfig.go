// control/runtimeconfig.go
// Author: momentics <momentics@gmail.com>
//
// Declarative per-runtime configuration: the pool layout carved into the
// shared segment and the capacity caps enforced by the daemon.

package control

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/shm"
)

// PoolSpec describes one payload size class.
type PoolSpec struct {
	ChunkSize  uint64 `json:"chunk_size"`
	ChunkCount uint64 `json:"chunk_count"`
}

// Caps bounds the daemon's tables. Zero fields take the compiled-in
// limits.
type Caps struct {
	MaxPublishers              int    `json:"max_publishers"`
	MaxSubscribers             int    `json:"max_subscribers"`
	MaxSubscribersPerPublisher int    `json:"max_subscribers_per_publisher"`
	MaxReceiverQueueCapacity   uint64 `json:"max_receiver_queue_capacity"`
	MaxPublisherHistory        uint64 `json:"max_publisher_history"`
}

// RuntimeConfig is the full daemon/runtime configuration.
type RuntimeConfig struct {
	RuntimeName string     `json:"runtime_name"`
	SegmentSize uint64     `json:"segment_size"`
	SocketPath  string     `json:"socket_path"`
	Pools       []PoolSpec `json:"pools"`
	Caps        Caps       `json:"caps"`
}

// DefaultConfig returns a working single-host configuration.
func DefaultConfig() RuntimeConfig {
	return RuntimeConfig{
		RuntimeName: "default",
		SegmentSize: 64 << 20,
		SocketPath:  DefaultSocketPath(),
		Pools: []PoolSpec{
			{ChunkSize: 128, ChunkCount: 4096},
			{ChunkSize: 1024, ChunkCount: 1024},
			{ChunkSize: 16384, ChunkCount: 128},
		},
		Caps: Caps{
			MaxPublishers:              api.MaxPublishers,
			MaxSubscribers:             api.MaxSubscribers,
			MaxSubscribersPerPublisher: api.MaxSubscribersPerPublisher,
			MaxReceiverQueueCapacity:   api.MaxReceiverQueueCapacity,
			MaxPublisherHistory:        api.MaxPublisherHistory,
		},
	}
}

// DefaultSocketPath returns the daemon control socket location.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/hioload-ipcd.sock"
	}
	return "/tmp/hioload-ipcd.sock"
}

// LoadConfig reads a JSON configuration file, fills unset fields from the
// defaults and validates the result.
func LoadConfig(path string) (RuntimeConfig, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return RuntimeConfig{}, err
	}
	return cfg, nil
}

func (c *RuntimeConfig) fillDefaults() {
	def := DefaultConfig()
	if c.RuntimeName == "" {
		c.RuntimeName = def.RuntimeName
	}
	if c.SegmentSize == 0 {
		c.SegmentSize = def.SegmentSize
	}
	if c.SocketPath == "" {
		c.SocketPath = def.SocketPath
	}
	if len(c.Pools) == 0 {
		c.Pools = def.Pools
	}
	if c.Caps.MaxPublishers == 0 {
		c.Caps.MaxPublishers = def.Caps.MaxPublishers
	}
	if c.Caps.MaxSubscribers == 0 {
		c.Caps.MaxSubscribers = def.Caps.MaxSubscribers
	}
	if c.Caps.MaxSubscribersPerPublisher == 0 {
		c.Caps.MaxSubscribersPerPublisher = def.Caps.MaxSubscribersPerPublisher
	}
	if c.Caps.MaxReceiverQueueCapacity == 0 {
		c.Caps.MaxReceiverQueueCapacity = def.Caps.MaxReceiverQueueCapacity
	}
	if c.Caps.MaxPublisherHistory == 0 {
		c.Caps.MaxPublisherHistory = def.Caps.MaxPublisherHistory
	}
}

// Validate checks size classes, counts and caps against the compiled-in
// limits.
func (c *RuntimeConfig) Validate() error {
	if c.RuntimeName == "" {
		return fmt.Errorf("runtime name is empty")
	}
	if c.SegmentSize < shm.MinSegmentSize {
		return fmt.Errorf("segment size %d below minimum %d", c.SegmentSize, shm.MinSegmentSize)
	}
	if len(c.Pools) == 0 {
		return fmt.Errorf("no memory pools configured")
	}
	var payload uint64
	for _, p := range c.Pools {
		if !shm.IsPowerOfTwo(p.ChunkSize) || p.ChunkSize < api.MinChunkSize {
			return fmt.Errorf("pool chunk size %d: must be a power of two >= %d", p.ChunkSize, api.MinChunkSize)
		}
		if p.ChunkCount == 0 {
			return fmt.Errorf("pool %d has zero chunks", p.ChunkSize)
		}
		payload += p.ChunkCount * (p.ChunkSize + 64)
	}
	if payload >= c.SegmentSize {
		return fmt.Errorf("pools need %d bytes, segment holds %d", payload, c.SegmentSize)
	}
	if c.Caps.MaxPublishers > api.MaxPublishers {
		return fmt.Errorf("max publishers %d exceeds limit %d", c.Caps.MaxPublishers, api.MaxPublishers)
	}
	if c.Caps.MaxSubscribers > api.MaxSubscribers {
		return fmt.Errorf("max subscribers %d exceeds limit %d", c.Caps.MaxSubscribers, api.MaxSubscribers)
	}
	if c.Caps.MaxSubscribersPerPublisher > api.MaxSubscribersPerPublisher {
		return fmt.Errorf("max subscribers per publisher %d exceeds limit %d", c.Caps.MaxSubscribersPerPublisher, api.MaxSubscribersPerPublisher)
	}
	if c.Caps.MaxReceiverQueueCapacity > api.MaxReceiverQueueCapacity {
		return fmt.Errorf("max receiver queue capacity %d exceeds limit %d", c.Caps.MaxReceiverQueueCapacity, api.MaxReceiverQueueCapacity)
	}
	if c.Caps.MaxPublisherHistory > api.MaxPublisherHistory {
		return fmt.Errorf("max publisher history %d exceeds limit %d", c.Caps.MaxPublisherHistory, api.MaxPublisherHistory)
	}
	return nil
}

// Store publishes the configuration into a ConfigStore for observers.
func (c *RuntimeConfig) Store(cs *ConfigStore) {
	cs.SetConfig(map[string]any{
		"runtime_name": c.RuntimeName,
		"segment_size": c.SegmentSize,
		"socket_path":  c.SocketPath,
		"pool_count":   len(c.Pools),
	})
}
