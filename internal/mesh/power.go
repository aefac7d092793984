package mesh

import (
	"fmt"
	"sync"
	"time"
)

// BatteryMode selects the power/latency trade-off for transports.
type BatteryMode int

const (
	// Performance favors fast discovery and delivery.
	Performance BatteryMode = iota
	// Balanced is the default.
	Balanced
	// PowerSaving favors battery life over latency.
	PowerSaving
)

func (m BatteryMode) String() string {
	switch m {
	case Performance:
		return "performance"
	case Balanced:
		return "balanced"
	case PowerSaving:
		return "powersaving"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseBatteryMode parses a mode name as found in config files.
func ParseBatteryMode(s string) (BatteryMode, error) {
	switch s {
	case "performance":
		return Performance, nil
	case "balanced", "":
		return Balanced, nil
	case "powersaving", "power-saving":
		return PowerSaving, nil
	default:
		return Balanced, fmt.Errorf("unknown battery mode: %q", s)
	}
}

// OptimizationConfig is the advisory tuning table transports consume.
type OptimizationConfig struct {
	Mode         BatteryMode
	ScanInterval time.Duration
	BatchSize    int
	MaxBatchAge  time.Duration
}

// ScanWindow is the active scan window: half the interval.
func (c OptimizationConfig) ScanWindow() time.Duration {
	return c.ScanInterval / 2
}

// ConfigForMode returns the tuning values for a battery mode.
func ConfigForMode(mode BatteryMode) OptimizationConfig {
	switch mode {
	case Performance:
		return OptimizationConfig{Mode: mode, ScanInterval: 100 * time.Millisecond, BatchSize: 5, MaxBatchAge: 1 * time.Second}
	case PowerSaving:
		return OptimizationConfig{Mode: mode, ScanInterval: 5 * time.Second, BatchSize: 20, MaxBatchAge: 5 * time.Second}
	default:
		return OptimizationConfig{Mode: Balanced, ScanInterval: 1 * time.Second, BatchSize: 10, MaxBatchAge: 2 * time.Second}
	}
}

// PacketBatcher collects packets so transports can send them in bursts
// instead of one radio wake-up per packet. It is advisory: transports
// decide when to act on the flush signals.
type PacketBatcher struct {
	mu        sync.Mutex
	batch     []*Packet
	maxSize   int
	maxAge    time.Duration
	lastFlush time.Time
}

// NewPacketBatcher creates a batcher with the given limits.
func NewPacketBatcher(maxSize int, maxAge time.Duration) *PacketBatcher {
	return &PacketBatcher{
		maxSize:   maxSize,
		maxAge:    maxAge,
		lastFlush: time.Now(),
	}
}

// NewPacketBatcherFromConfig creates a batcher tuned per the config.
func NewPacketBatcherFromConfig(cfg OptimizationConfig) *PacketBatcher {
	return NewPacketBatcher(cfg.BatchSize, cfg.MaxBatchAge)
}

// Add appends a packet and reports whether the batch is full and
// should be flushed immediately.
func (b *PacketBatcher) Add(p *Packet) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batch = append(b.batch, p)
	return len(b.batch) >= b.maxSize
}

// ShouldFlush reports whether the batch has exceeded its age limit.
func (b *PacketBatcher) ShouldFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Since(b.lastFlush) >= b.maxAge
}

// TakeBatch drains the batch and resets the age timer.
func (b *PacketBatcher) TakeBatch() []*Packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.batch
	b.batch = nil
	b.lastFlush = time.Now()
	return out
}

// Len returns the current batch size.
func (b *PacketBatcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batch)
}
