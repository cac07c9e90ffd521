package kafka

import (
	"sync"

	"ktail/internal/offsets"
)

// Checkpoint tracks the offset of the last record seen per partition during a
// single read. Offsets never move backwards: a replayed or out-of-order record
// leaves the recorded position untouched.
type Checkpoint struct {
	mu      sync.Mutex
	latest  offsets.Table
	updates int64
}

// NewCheckpoint starts from seed so partitions that see no records keep their
// previous position.
func NewCheckpoint(seed offsets.Table) *Checkpoint {
	return &Checkpoint{latest: seed.Clone()}
}

// Observe records that offset was consumed from partition and reports whether
// the recorded position advanced.
func (c *Checkpoint) Observe(partition int32, offset int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.latest[partition]; ok && cur >= offset {
		return false
	}
	c.latest[partition] = offset
	c.updates++
	return true
}

// Snapshot returns a copy of the current table.
func (c *Checkpoint) Snapshot() offsets.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest.Clone()
}

// Updates is the number of observations that advanced a partition.
func (c *Checkpoint) Updates() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates
}

// StartOffsets converts a table of last consumed offsets into the next offset
// to read for every partition.
func StartOffsets(last offsets.Table) map[int32]int64 {
	start := make(map[int32]int64, len(last))
	for p, off := range last {
		start[p] = off + 1
	}
	return start
}
