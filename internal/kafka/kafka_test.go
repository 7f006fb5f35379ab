package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/power4-engine/internal/config"
	"github.com/power4-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ratedSettlement() *domain.Settlement {
	return &domain.Settlement{
		GameID:        7,
		Status:        domain.GameStatusFinished,
		WinnerID:      domain.Int64(1),
		FinishedAt:    time.Now(),
		RatingUpdated: true,
		Player1:       &domain.RatingChange{PlayerID: 1, Old: 1200, New: 1220, K: 40},
		Player2:       &domain.RatingChange{PlayerID: 2, Old: 1200, New: 1180, K: 40},
		Records: []domain.RatingRecord{
			{UserID: 1, Rating: 1220, GamesPlayed: 1, Wins: 1},
			{UserID: 2, Rating: 1180, GamesPlayed: 1, Losses: 1},
		},
	}
}

func TestPublishSettlement(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev domain.SettlementEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.GameID != 7 || len(ev.Records) != 2 || len(ev.Changes) != 2 || ev.EventID == "" {
			return errors.New("unexpected event payload")
		}
		return nil
	})
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducerWithClient(sp, "game-settlements", discardLogger())
	require.NoError(t, p.PublishSettlement(context.Background(), ratedSettlement()))

	err := p.PublishSettlement(context.Background(), ratedSettlement())
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	require.NoError(t, p.Close())
}

func TestMessageKeyedByGame(t *testing.T) {
	msg, err := Message("game-settlements", NewSettlementEvent(ratedSettlement()))
	require.NoError(t, err)
	assert.Equal(t, "game-settlements", msg.Topic)

	key, err := msg.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "7", string(key))
}

type recordingHandler struct {
	mu     sync.Mutex
	events []domain.SettlementEvent
}

func (h *recordingHandler) ApplySettlements(ctx context.Context, events []domain.SettlementEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, events...)
	return nil
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string { return "member" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "game-settlements" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestConsumeClaimAppliesValidEvents(t *testing.T) {
	handler := &recordingHandler{}
	consumer := &Consumer{
		config:  &config.KafkaConfig{BatchSize: 10, BatchTimeout: time.Hour},
		handler: handler,
		logger:  discardLogger(),
	}

	good, err := json.Marshal(NewSettlementEvent(ratedSettlement()))
	require.NoError(t, err)
	empty, err := json.Marshal(domain.SettlementEvent{GameID: 8})
	require.NoError(t, err)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 4)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 1, Value: good}
	claim.messages <- &sarama.ConsumerMessage{Offset: 2, Value: []byte("{not json")}
	claim.messages <- &sarama.ConsumerMessage{Offset: 3, Value: empty}
	claim.messages <- &sarama.ConsumerMessage{Offset: 4, Value: good}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	h := &consumerGroupHandler{consumer: consumer}
	require.NoError(t, h.ConsumeClaim(session, claim))

	require.Len(t, handler.events, 2)
	assert.Equal(t, int64(7), handler.events[0].GameID)
	assert.Equal(t, []int64{4}, session.marked)
}

func TestConsumeClaimFlushesFullBatches(t *testing.T) {
	handler := &recordingHandler{}
	consumer := &Consumer{
		config:  &config.KafkaConfig{BatchSize: 2, BatchTimeout: time.Hour},
		handler: handler,
		logger:  discardLogger(),
	}

	good, err := json.Marshal(NewSettlementEvent(ratedSettlement()))
	require.NoError(t, err)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	for i := int64(1); i <= 3; i++ {
		claim.messages <- &sarama.ConsumerMessage{Offset: i, Value: good}
	}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	h := &consumerGroupHandler{consumer: consumer}
	require.NoError(t, h.ConsumeClaim(session, claim))

	assert.Len(t, handler.events, 3)
	assert.Equal(t, []int64{2, 3}, session.marked)
}

func TestConsumeClaimAcceptsReplayEvents(t *testing.T) {
	handler := &recordingHandler{}
	consumer := &Consumer{
		config:  &config.KafkaConfig{BatchSize: 10, BatchTimeout: time.Hour},
		handler: handler,
		logger:  discardLogger(),
	}

	replay, err := json.Marshal(NewReplayEvent([]domain.RatingRecord{{UserID: 3, Rating: 1310, GamesPlayed: 12}}))
	require.NoError(t, err)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 9, Value: replay}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	h := &consumerGroupHandler{consumer: consumer}
	require.NoError(t, h.ConsumeClaim(session, claim))

	require.Len(t, handler.events, 1)
	assert.Zero(t, handler.events[0].GameID)
	assert.Equal(t, 1310, handler.events[0].Records[0].Rating)
	assert.Equal(t, []int64{9}, session.marked)
}

func TestSetupSignalsReadyOnce(t *testing.T) {
	consumer := &Consumer{ready: make(chan struct{}), logger: discardLogger()}
	h := &consumerGroupHandler{consumer: consumer}
	session := &fakeSession{ctx: context.Background()}

	require.NoError(t, h.Setup(session))
	// a rebalance starts a second session
	require.NoError(t, h.Setup(session))

	select {
	case <-consumer.ready:
	default:
		t.Fatal("consumer not marked ready")
	}
}
