package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(context.Background(), &ProducerConfig{})
	assert.Error(t, err)

	_, err = NewProducer(context.Background(), nil)
	assert.Error(t, err)
}

func TestToRecord(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := toRecord(&Message{
		Topic:     "admission-events",
		Key:       []byte("evt-1"),
		Value:     []byte(`{"type":"entry.promoted"}`),
		Headers:   map[string]string{"event_type": "entry.promoted"},
		Timestamp: ts,
	})

	assert.Equal(t, "admission-events", rec.Topic)
	assert.Equal(t, []byte("evt-1"), rec.Key)
	assert.Equal(t, ts, rec.Timestamp)
	if assert.Len(t, rec.Headers, 1) {
		assert.Equal(t, "event_type", rec.Headers[0].Key)
		assert.Equal(t, []byte("entry.promoted"), rec.Headers[0].Value)
	}
}
