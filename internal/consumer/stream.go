package consumer

import (
	"sync"

	"ktail/internal/offsets"
	"ktail/source/kafka"
)

type Outcome int

const (
	Completed Outcome = iota
	Cancelled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Stream is the output of one Fetch.
//
// Chunks must be drained (or the fetch context cancelled) for the stream to
// end. Done is closed exactly once, after Chunks is closed and the offset
// table is final. Outcome and Err wait for Done.
type Stream struct {
	chunks chan []byte
	cp     *kafka.Checkpoint

	once    sync.Once
	done    chan struct{}
	outcome Outcome
	err     error
}

func newStream(seed offsets.Table) *Stream {
	return &Stream{
		chunks: make(chan []byte),
		cp:     kafka.NewCheckpoint(seed),
		done:   make(chan struct{}),
	}
}

func (s *Stream) finish(o Outcome, err error) {
	s.once.Do(func() {
		s.outcome, s.err = o, err
		close(s.done)
	})
}

// Chunks yields the decoded bytes of every non-empty record in consumption
// order.
func (s *Stream) Chunks() <-chan []byte { return s.chunks }

func (s *Stream) Done() <-chan struct{} { return s.done }

// Offsets is the last consumed offset per partition, including partitions
// carried over from the seek table.
func (s *Stream) Offsets() offsets.Table { return s.cp.Snapshot() }

func (s *Stream) Outcome() Outcome {
	<-s.done
	return s.outcome
}

func (s *Stream) Err() error {
	<-s.done
	return s.err
}
