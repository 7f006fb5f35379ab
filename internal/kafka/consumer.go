package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/power4-engine/internal/config"
	"github.com/power4-engine/internal/domain"
)

// SettlementHandler applies settlement events
type SettlementHandler interface {
	ApplySettlements(ctx context.Context, events []domain.SettlementEvent) error
}

// readyTimeout bounds how long Start waits for the first group session
const readyTimeout = 30 * time.Second

// Consumer consumes settlement events from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       SettlementHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan struct{}
	readyOnce     sync.Once
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler SettlementHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Offsets.AutoCommit.Interval = cfg.BatchTimeout
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group %s: %w", cfg.GroupID, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan struct{}),
	}, nil
}

// Start joins the consumer group in the background and waits for the first
// session. If none starts in time the consumer keeps retrying and Start
// returns anyway; events wait in the topic.
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(2)
	go c.consume()
	go c.drainErrors()

	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-time.After(readyTimeout):
		c.logger.Warn("Kafka consumer not ready yet, still retrying in background", "waited", readyTimeout)
	}
	return nil
}

// consume rejoins the group after every rebalance until stopped
func (c *Consumer) consume() {
	defer c.wg.Done()
	handler := &consumerGroupHandler{consumer: c}

	for {
		err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return
		case err != nil:
			c.logger.Error("error from consumer", "error", err, "retry_in", c.config.RetryDelay)
			select {
			case <-c.ctx.Done():
			case <-time.After(c.config.RetryDelay):
			}
		}
		if c.ctx.Err() != nil {
			return
		}
	}
}

func (c *Consumer) drainErrors() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case err, ok := <-c.consumerGroup.Errors():
			if !ok {
				return
			}
			c.logger.Error("consumer group error", "error", err)
		}
	}
}

// Stop leaves the group after the current batch is applied
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
}

// Setup marks the consumer ready once the first session has partitions
func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.consumer.readyOnce.Do(func() { close(h.consumer.ready) })
	h.consumer.logger.Debug("consumer session started", "generation", session.GenerationID(), "claims", session.Claims())
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Offsets are marked
// once the batch holding them has been handed to the handler, whether or not
// applying it succeeded; the sync worker repairs a cache that missed a batch.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	batch := make([]domain.SettlementEvent, 0, cfg.BatchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() {
		if last == nil {
			return
		}

		if len(batch) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := h.consumer.handler.ApplySettlements(ctx, batch); err != nil {
				h.consumer.logger.Error("failed to apply settlements", "error", err, "batch_size", len(batch))
			} else {
				h.consumer.logger.Debug("applied settlements", "batch_size", len(batch))
			}
		}

		session.MarkMessage(last, "")
		batch = batch[:0]
		last = nil
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			processBatch()
			return nil

		case <-batchTimer.C:
			processBatch()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}
			last = message

			var event domain.SettlementEvent
			if err := json.Unmarshal(message.Value, &event); err != nil {
				h.consumer.logger.Warn("failed to unmarshal message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}

			// Replayed events carry records without a game.
			if event.GameID < 0 || len(event.Records) == 0 {
				h.consumer.logger.Warn("invalid settlement event",
					"event_id", event.EventID,
					"game_id", event.GameID,
				)
				continue
			}

			batch = append(batch, event)

			if len(batch) >= cfg.BatchSize {
				processBatch()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
