package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"ktail/internal/logging"
)

func init() {
	Register("sarama", func() Adapter { return &SaramaDriver{} })
}

// SaramaDriver consumes through a sarama consumer group. Explicit start
// offsets override the group's committed offsets when a partition is first
// claimed.
type SaramaDriver struct {
	cfg   Settings
	cl    sarama.Client
	group sarama.ConsumerGroup
	log   *slog.Logger
}

func (d *SaramaDriver) Configure(s Settings) error {
	d.cfg = s.withDefaults()
	d.log = logging.Component("sarama-driver")

	sc, err := d.cfg.saramaConfig()
	if err != nil {
		return err
	}
	if d.cl, err = sarama.NewClient(d.cfg.Brokers, sc); err != nil {
		return err
	}
	d.group, err = sarama.NewConsumerGroupFromClient(d.cfg.GroupID, d.cl)
	return err
}

func (d *SaramaDriver) Run(ctx context.Context, topic string, start map[int32]int64, emit EmitFunc) error {
	if d.group == nil {
		return errors.New("sarama-driver: not configured")
	}
	if d.log == nil {
		d.log = logging.Component("sarama-driver")
	}
	handler := &groupHandler{topic: topic, start: start, emit: emit, applied: map[int32]bool{}, log: d.log}

	go d.drainErrors(ctx)

	for {
		if err := d.group.Consume(ctx, []string{topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (d *SaramaDriver) drainErrors(ctx context.Context) {
	errs := d.group.Errors()
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}
			d.log.Warn("consumer group error", "err", err)
		case <-ctx.Done():
			return
		}
	}
}

func (d *SaramaDriver) Close() error {
	var err error
	if d.group != nil {
		err = d.group.Close()
	}
	if d.cl != nil && !d.cl.Closed() {
		if cerr := d.cl.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

type groupHandler struct {
	topic string
	start map[int32]int64
	emit  EmitFunc
	log   *slog.Logger

	mu      sync.Mutex
	applied map[int32]bool
}

// Setup seeks every newly claimed partition that has an explicit start.
// A partition is only seeked once per Run; after a rebalance the group's own
// marked offsets take over.
//
// sarama's MarkOffset only moves a partition forward and ResetOffset only
// moves it back, so both are applied to land on off from any committed
// position, including none.
func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range sess.Claims()[h.topic] {
		off, ok := h.start[p]
		if !ok || h.applied[p] {
			continue
		}
		sess.MarkOffset(h.topic, p, off, "")
		sess.ResetOffset(h.topic, p, off, "")
		h.applied[p] = true
		h.log.Debug("seeked partition", "topic", h.topic, "partition", p, "offset", off)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	sess.Commit()
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil

		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			rec := Record{
				Topic:     msg.Topic,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Key:       msg.Key,
				Value:     msg.Value,
				Timestamp: msg.Timestamp,
			}
			if err := h.emit(rec); err != nil {
				return err
			}
			sess.MarkMessage(msg, "")
		}
	}
}
