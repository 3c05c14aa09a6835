package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Envelope(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "hostauth-test")

	at := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), Event{
		Type:    TypeReuseDetected,
		Subject: "user-1",
		Time:    at,
		Data:    map[string]any{"tokenId": "rt-1"},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "user-1", string(msg.Key))

	var ce map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &ce))
	assert.Equal(t, "1.0", ce["specversion"])
	assert.Equal(t, "hostauth-test", ce["source"])
	assert.Equal(t, TypeReuseDetected, ce["type"])
	assert.Equal(t, "user-1", ce["subject"])
	assert.Equal(t, "2026-07-01T12:00:00Z", ce["time"])
	assert.NotEmpty(t, ce["id"])
	assert.Equal(t, map[string]any{"tokenId": "rt-1"}, ce["data"])
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := newKafkaPublisher(&fakeWriter{err: errors.New("broker down")}, "hostauth")

	err := p.Publish(context.Background(), Event{Type: TypeLogin, Subject: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, newKafkaPublisher(w, "hostauth").Close())
	assert.True(t, w.closed)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	require.NoError(t, p.Publish(context.Background(), Event{}))
	require.NoError(t, p.Close())
}
