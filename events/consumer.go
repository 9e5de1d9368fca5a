package events

import (
	"context"
	"log"

	"github.com/IBM/sarama"
)

// Handler processes one consumed message. mark=false leaves the offset
// unmarked so the message is redelivered; err is logged either way.
type Handler interface {
	Handle(ctx context.Context, message []byte) (mark bool, err error)
}

// Consumer drives a Handler from a Kafka consumer group.
type Consumer struct {
	group   sarama.ConsumerGroup
	handler Handler
	topic   string
	groupID string
	ready   chan struct{}
}

// NewConsumer joins the consumer group. Offsets start at newest: capture
// requests from before the process existed are stale by definition.
func NewConsumer(brokers []string, topic, groupID string, handler Handler) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		group:   group,
		handler: handler,
		topic:   topic,
		groupID: groupID,
		ready:   make(chan struct{}),
	}, nil
}

// Start consumes until ctx is cancelled. It returns once the first session
// is set up, so callers know the subscription is live.
func (c *Consumer) Start(ctx context.Context) error {
	session := &groupSession{handler: c.handler, ready: c.ready}

	go func() {
		for {
			if err := c.group.Consume(ctx, []string{c.topic}, session); err != nil {
				if err == context.Canceled {
					return
				}
				log.Printf("❌ Kafka consume error: %v", err)
			}
			if ctx.Err() != nil {
				return
			}
			session.ready = make(chan struct{})
		}
	}()

	go func() {
		for err := range c.group.Errors() {
			log.Printf("❌ Kafka consumer error: %v", err)
		}
	}()

	select {
	case <-c.ready:
		log.Printf("✅ Kafka consumer started (group: %s, topic: %s)", c.groupID, c.topic)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupSession struct {
	handler Handler
	ready   chan struct{}
}

func (s *groupSession) Setup(sarama.ConsumerGroupSession) error {
	close(s.ready)
	return nil
}

func (s *groupSession) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (s *groupSession) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			mark, err := s.handler.Handle(session.Context(), message.Value)
			if err != nil {
				log.Printf("❌ Message at %s/%d/%d not handled: %v",
					message.Topic, message.Partition, message.Offset, err)
			}
			if mark {
				session.MarkMessage(message, "")
			}
		case <-session.Context().Done():
			return nil
		}
	}
}
