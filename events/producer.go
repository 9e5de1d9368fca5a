package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// Producer publishes JSON events to the lifecycle topic.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

// NewProducer connects a synchronous producer. Publishing is best-effort
// from the pipeline's point of view; callers log and continue on error.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}
	log.Printf("✅ Kafka producer connected (topic: %s)", topic)
	return &Producer{producer: producer, topic: topic, now: time.Now}, nil
}

// Close shuts the producer down.
func (p *Producer) Close() error {
	return p.producer.Close()
}

// ArtifactCreated publishes a CREATED lifecycle event keyed by video, so all
// events for one video land on the same partition.
func (p *Producer) ArtifactCreated(_ context.Context, kind, id, videoID, location string, size int64) error {
	return p.publish(videoID, ArtifactEvent{
		Kind:       kind,
		Action:     "CREATED",
		ArtifactID: id,
		VideoID:    videoID,
		Location:   location,
		Size:       size,
		OccurredAt: p.now(),
	})
}

// ArtifactDeleted publishes a DELETED lifecycle event.
func (p *Producer) ArtifactDeleted(_ context.Context, kind, id, videoID, location string) error {
	return p.publish(videoID, ArtifactEvent{
		Kind:       kind,
		Action:     "DELETED",
		ArtifactID: id,
		VideoID:    videoID,
		Location:   location,
		OccurredAt: p.now(),
	})
}

func (p *Producer) publish(key string, event ArtifactEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode lifecycle event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish %s %s: %w", event.Action, event.ArtifactID, err)
	}
	return nil
}
