package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/power4-engine/internal/config"
	"github.com/power4-engine/internal/domain"
)

// Producer publishes settlement events
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	saramaConfig.Producer.Retry.Backoff = cfg.RetryDelay
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return NewProducerWithClient(producer, cfg.Topic, logger), nil
}

// NewProducerWithClient wraps an existing sarama producer
func NewProducerWithClient(producer sarama.SyncProducer, topic string, logger *slog.Logger) *Producer {
	return &Producer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// NewSettlementEvent builds the event for a rated settlement
func NewSettlementEvent(s *domain.Settlement) domain.SettlementEvent {
	ev := domain.SettlementEvent{
		EventID:    uuid.NewString(),
		GameID:     s.GameID,
		WinnerID:   s.WinnerID,
		Records:    s.Records,
		FinishedAt: s.FinishedAt,
		Timestamp:  time.Now(),
	}
	for _, c := range []*domain.RatingChange{s.Player1, s.Player2} {
		if c != nil {
			ev.Changes = append(ev.Changes, *c)
		}
	}
	return ev
}

// NewReplayEvent wraps rating records read back from the database. It has no
// game; consumers apply the records like any other settlement.
func NewReplayEvent(records []domain.RatingRecord) domain.SettlementEvent {
	return domain.SettlementEvent{
		EventID:   uuid.NewString(),
		Records:   records,
		Timestamp: time.Now(),
	}
}

// Message encodes an event keyed by game, so one game's events stay ordered
// on a single partition.
func Message(topic string, ev domain.SettlementEvent) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(ev.GameID, 10)),
		Value: sarama.ByteEncoder(data),
	}, nil
}

// PublishSettlement sends one settlement event and waits for the ack
func (p *Producer) PublishSettlement(ctx context.Context, s *domain.Settlement) error {
	ev := NewSettlementEvent(s)
	msg, err := Message(p.topic, ev)
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publishing settlement of game %d: %w", s.GameID, err)
	}

	p.logger.Debug("settlement published",
		"game_id", s.GameID,
		"event_id", ev.EventID,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	return p.producer.Close()
}
