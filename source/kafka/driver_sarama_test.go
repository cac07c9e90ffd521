package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ktail/internal/logging"
)

type fakeSession struct {
	sarama.ConsumerGroupSession

	ctx    context.Context
	claims map[string][]int32

	mu      sync.Mutex
	resets  map[int32]int64
	marks   map[int32]int64
	marked  []int64
	commits int
}

func newFakeSession(ctx context.Context, topic string, partitions ...int32) *fakeSession {
	return &fakeSession{ctx: ctx, claims: map[string][]int32{topic: partitions}, resets: map[int32]int64{}, marks: map[int32]int64{}}
}

func (s *fakeSession) Claims() map[string][]int32 { return s.claims }
func (s *fakeSession) Context() context.Context   { return s.ctx }

func (s *fakeSession) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
}

func (s *fakeSession) ResetOffset(_ string, p int32, off int64, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets[p] = off
}

func (s *fakeSession) MarkOffset(_ string, p int32, off int64, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[p] = off
}

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim

	partition int32
	msgs      chan *sarama.ConsumerMessage
}

func newFakeClaim(topic string, partition int32, keys ...string) *fakeClaim {
	c := &fakeClaim{partition: partition, msgs: make(chan *sarama.ConsumerMessage, len(keys))}
	for i, k := range keys {
		c.msgs <- &sarama.ConsumerMessage{Topic: topic, Partition: partition, Offset: int64(i), Key: []byte(k), Value: []byte("v-" + k)}
	}
	close(c.msgs)
	return c
}

func (c *fakeClaim) Partition() int32                          { return c.partition }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

// fakeGroup runs one generation over the given claims and then blocks until
// the context is cancelled, like a group with no further rebalances.
type fakeGroup struct {
	sarama.ConsumerGroup

	topic  string
	claims []*fakeClaim
	calls  int
	closed bool
}

func (g *fakeGroup) Errors() <-chan error { return nil }

func (g *fakeGroup) Close() error {
	g.closed = true
	return nil
}

func (g *fakeGroup) Consume(ctx context.Context, topics []string, h sarama.ConsumerGroupHandler) error {
	g.calls++
	if g.calls > 1 {
		<-ctx.Done()
		return nil
	}
	parts := make([]int32, 0, len(g.claims))
	for _, c := range g.claims {
		parts = append(parts, c.partition)
	}
	sess := newFakeSession(ctx, topics[0], parts...)
	if err := h.Setup(sess); err != nil {
		return err
	}
	for _, c := range g.claims {
		if err := h.ConsumeClaim(sess, c); err != nil {
			return err
		}
	}
	return h.Cleanup(sess)
}

func TestGroupHandler_SetupSeeksOncePerPartition(t *testing.T) {
	h := &groupHandler{topic: "t", start: map[int32]int64{0: 10, 2: 7}, applied: map[int32]bool{}, log: logging.Discard()}

	sess := newFakeSession(context.Background(), "t", 0, 1, 2)
	require.NoError(t, h.Setup(sess))
	assert.Equal(t, map[int32]int64{0: 10, 2: 7}, sess.marks)
	assert.Equal(t, map[int32]int64{0: 10, 2: 7}, sess.resets)

	again := newFakeSession(context.Background(), "t", 0, 1, 2)
	require.NoError(t, h.Setup(again))
	assert.Empty(t, again.marks)
	assert.Empty(t, again.resets)
}

// managedSession applies seeks through sarama's own partition offset
// managers, which only honour MarkOffset forward and ResetOffset backward.
type managedSession struct {
	*fakeSession
	poms map[int32]sarama.PartitionOffsetManager
}

func (s *managedSession) MarkOffset(_ string, p int32, off int64, md string) {
	s.poms[p].MarkOffset(off, md)
}

func (s *managedSession) ResetOffset(_ string, p int32, off int64, md string) {
	s.poms[p].ResetOffset(off, md)
}

func TestGroupHandler_SetupOverridesCommittedOffset(t *testing.T) {
	tests := []struct {
		name      string
		committed int64
		start     int64
	}{
		{name: "fresh group", committed: -1, start: 10},
		{name: "behind token", committed: 3, start: 10},
		{name: "ahead of token", committed: 42, start: 10},
		{name: "at token", committed: 10, start: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := sarama.NewMockBroker(t, 1)
			defer broker.Close()
			broker.SetHandlerByMap(map[string]sarama.MockResponse{
				"MetadataRequest": sarama.NewMockMetadataResponse(t).
					SetBroker(broker.Addr(), broker.BrokerID()).
					SetLeader("precog", 0, broker.BrokerID()),
				"FindCoordinatorRequest": sarama.NewMockFindCoordinatorResponse(t).
					SetCoordinator(sarama.CoordinatorGroup, "ktail", broker),
				"OffsetFetchRequest": sarama.NewMockOffsetFetchResponse(t).
					SetOffset("ktail", "precog", 0, tt.committed, "", sarama.ErrNoError),
			})

			cfg := sarama.NewConfig()
			cfg.Version = sarama.V1_0_0_0
			cfg.Metadata.Retry.Max = 0
			cfg.Consumer.Offsets.AutoCommit.Enable = false
			cfg.Consumer.Offsets.Initial = sarama.OffsetOldest

			client, err := sarama.NewClient([]string{broker.Addr()}, cfg)
			require.NoError(t, err)
			defer client.Close()
			om, err := sarama.NewOffsetManagerFromClient("ktail", client)
			require.NoError(t, err)
			defer om.Close()
			pom, err := om.ManagePartition("precog", 0)
			require.NoError(t, err)

			h := &groupHandler{topic: "precog", start: map[int32]int64{0: tt.start}, applied: map[int32]bool{}, log: logging.Discard()}
			sess := &managedSession{
				fakeSession: newFakeSession(context.Background(), "precog", 0),
				poms:        map[int32]sarama.PartitionOffsetManager{0: pom},
			}
			require.NoError(t, h.Setup(sess))

			next, _ := pom.NextOffset()
			assert.Equal(t, tt.start, next)
		})
	}
}

func TestGroupHandler_ConsumeClaimEmitsAndMarks(t *testing.T) {
	var got []Record
	h := &groupHandler{topic: "t", emit: func(r Record) error {
		got = append(got, r)
		return nil
	}, applied: map[int32]bool{}, log: logging.Discard()}

	sess := newFakeSession(context.Background(), "t", 3)
	require.NoError(t, h.ConsumeClaim(sess, newFakeClaim("t", 3, "a", "b")))

	require.Len(t, got, 2)
	assert.Equal(t, []byte("a"), got[0].Key)
	assert.Equal(t, int32(3), got[1].Partition)
	assert.Equal(t, int64(1), got[1].Offset)
	assert.Equal(t, []int64{0, 1}, sess.marked)
}

func TestGroupHandler_EmitErrorStopsClaim(t *testing.T) {
	boom := errors.New("boom")
	h := &groupHandler{topic: "t", emit: func(Record) error { return boom }, applied: map[int32]bool{}, log: logging.Discard()}

	sess := newFakeSession(context.Background(), "t", 0)
	err := h.ConsumeClaim(sess, newFakeClaim("t", 0, "a", "b"))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, sess.marked)
}

func TestSaramaDriver_RunUntilCancelled(t *testing.T) {
	g := &fakeGroup{topic: "t", claims: []*fakeClaim{newFakeClaim("t", 0, "a"), newFakeClaim("t", 1, "b", "c")}}
	d := &SaramaDriver{group: g, log: logging.Discard()}

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var keys []string
	emit := func(r Record) error {
		mu.Lock()
		defer mu.Unlock()
		keys = append(keys, string(r.Key))
		if len(keys) == 3 {
			cancel()
		}
		return nil
	}

	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx, "t", nil, emit) }()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	require.NoError(t, d.Close())
	assert.True(t, g.closed)
}

func TestSaramaDriver_RunNotConfigured(t *testing.T) {
	d := &SaramaDriver{}
	assert.Error(t, d.Run(context.Background(), "t", nil, func(Record) error { return nil }))
}
