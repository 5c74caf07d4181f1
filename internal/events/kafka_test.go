package events

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
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisherHandle(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisherWithWriter(w)
	aggregate := uuid.New()
	entry := Entry{
		ID:          uuid.New(),
		Type:        TypeBookingConfirmed,
		AggregateID: aggregate,
		Payload:     []byte(`{"booking_id":"` + aggregate.String() + `"}`),
		CreatedAt:   time.Now().UTC(),
	}

	require.NoError(t, p.Handle(context.Background(), entry))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, aggregate.String(), string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, TypeBookingConfirmed, string(msg.Headers[0].Value))

	var env kafkaEnvelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, entry.ID.String(), env.ID)
	assert.JSONEq(t, string(entry.Payload), string(env.Payload))
}

func TestKafkaPublisherPropagatesWriteError(t *testing.T) {
	p := newKafkaPublisherWithWriter(&fakeWriter{err: errors.New("leader not available")})
	err := p.Handle(context.Background(), Entry{ID: uuid.New(), Type: TypeBookingCreated})
	assert.Error(t, err)
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "topic")
	assert.Error(t, err)
	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "")
	assert.Error(t, err)
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "clinic.booking-events")
	require.NoError(t, err)
	assert.Equal(t, "kafka", p.Name())
}
