package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

type fakeWriter struct {
	failures int
	calls    int
	msgs     []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.calls++
	if w.calls <= w.failures {
		return errors.New("leader not available")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func event() models.NotificationEvent {
	return models.NotificationEvent{
		Type:         models.NotificationCardCreated,
		TenantID:     "acme",
		CardID:       uuid.MustParse("5f0c7a8e-9a55-4d4e-8f43-3c1b9a0d2e11"),
		Status:       models.CardStatusNew,
		OwnerRole:    models.RoleCFO,
		ImpactAmount: 650_000_000,
		OccurredAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisherRetriesThenSucceeds(t *testing.T) {
	w := &fakeWriter{failures: 2}
	p := newKafkaPublisher(w, KafkaConfig{MaxAttempts: 3})
	p.backoff = time.Millisecond

	require.NoError(t, p.Publish(context.Background(), event()))
	assert.Equal(t, 3, w.calls)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "5f0c7a8e-9a55-4d4e-8f43-3c1b9a0d2e11", string(w.msgs[0].Key))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "card.created", decoded["type"])
	assert.Equal(t, "CFO", decoded["ownerRole"])
	assert.Equal(t, float64(650_000_000), decoded["impactAmount"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherGivesUp(t *testing.T) {
	w := &fakeWriter{failures: 10}
	p := newKafkaPublisher(w, KafkaConfig{MaxAttempts: 2})
	p.backoff = time.Millisecond

	err := p.Publish(context.Background(), event())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, w.calls)
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "cards"})
	assert.Error(t, err)
	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

func TestRecorderAndLogPublisher(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Publish(context.Background(), event()))
	assert.Len(t, r.Events(), 1)

	r.Err = errors.New("down")
	assert.Error(t, r.Publish(context.Background(), event()))

	assert.NoError(t, NewLogPublisher(nil).Publish(context.Background(), event()))
}
