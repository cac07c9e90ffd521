// Package offsets encodes per-partition read positions into the opaque
// resumption tokens handed to the host engine.
package offsets

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"slices"
)

var (
	// ErrMalformedToken is returned by Decode when the bytes are not a token
	// produced by Encode.
	ErrMalformedToken = errors.New("offsets: malformed token")

	// ErrInvalidTable is returned by Encode for tables holding negative
	// partitions or offsets.
	ErrInvalidTable = errors.New("offsets: invalid table")
)

const (
	headerSize = 4
	recordSize = 4 + 8
)

// Table maps a partition index to the offset of the last record consumed from
// it. All keys belong to a single topic.
type Table map[int32]int64

// Clone returns an independent copy; a nil table clones to an empty one.
func (t Table) Clone() Table {
	if t == nil {
		return Table{}
	}
	return maps.Clone(t)
}

// Partitions returns the partition indices in ascending order.
func (t Table) Partitions() []int32 {
	return slices.Sorted(maps.Keys(t))
}

// Encode serializes t as a big-endian record count followed by one
// (partition int32, offset int64) pair per entry, ordered by partition.
func Encode(t Table) ([]byte, error) {
	buf := make([]byte, headerSize, headerSize+len(t)*recordSize)
	binary.BigEndian.PutUint32(buf, uint32(len(t)))

	for _, p := range t.Partitions() {
		off := t[p]
		if p < 0 || off < 0 {
			return nil, fmt.Errorf("%w: partition %d offset %d", ErrInvalidTable, p, off)
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(p))
		buf = binary.BigEndian.AppendUint64(buf, uint64(off))
	}
	return buf, nil
}

// Decode is the inverse of Encode. It never panics on arbitrary input.
func Decode(b []byte) (Table, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrMalformedToken, len(b), headerSize)
	}
	n := uint64(binary.BigEndian.Uint32(b))
	body := b[headerSize:]
	if uint64(len(body)) != n*recordSize {
		return nil, fmt.Errorf("%w: header claims %d records, body holds %d bytes", ErrMalformedToken, n, len(body))
	}

	t := make(Table, n)
	for len(body) > 0 {
		p := int32(binary.BigEndian.Uint32(body))
		off := int64(binary.BigEndian.Uint64(body[4:]))
		body = body[recordSize:]

		if p < 0 || off < 0 {
			return nil, fmt.Errorf("%w: negative entry partition=%d offset=%d", ErrMalformedToken, p, off)
		}
		if _, dup := t[p]; dup {
			return nil, fmt.Errorf("%w: duplicate partition %d", ErrMalformedToken, p)
		}
		t[p] = off
	}
	return t, nil
}
