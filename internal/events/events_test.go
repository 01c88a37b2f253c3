package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "cryptonite/internal/errors"
)

type stubNotifier struct {
	channel Channel
	err     error
	events  []Event
}

func (s *stubNotifier) Channel() Channel { return s.channel }

func (s *stubNotifier) Notify(_ context.Context, event Event) error {
	s.events = append(s.events, event)
	return s.err
}

func sampleEvent() Event {
	return Event{
		Type:         TypeTransactionOutcome,
		DescriptorID: "d-1",
		Kind:         "swap",
		Status:       "unresolved",
		Signature:    "5sig",
		Explorer:     "https://solscan.io/tx/5sig",
		Code:         xerrors.CodeConfirmationAmbiguous,
		Message:      "confirmation timed out",
		OccurredAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	audit := &stubNotifier{channel: ChannelAudit}
	duplicate := &stubNotifier{channel: ChannelAudit}
	broker := &stubNotifier{channel: ChannelRabbitMQ, err: errors.New("broker down")}

	d := NewFanout(audit, nil, duplicate, broker)
	assert.Equal(t, []Channel{ChannelAudit, ChannelRabbitMQ}, d.Channels())

	err := d.Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel rabbitmq")
	assert.Len(t, audit.events, 1)
	assert.Empty(t, duplicate.events)
	assert.Len(t, broker.events, 1)

	var nilFanout *FanoutDispatcher
	assert.NoError(t, nilFanout.Notify(context.Background(), sampleEvent()))
}

func TestAuditNotifierWritesRecord(t *testing.T) {
	var buf bytes.Buffer
	n := &AuditNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	require.NoError(t, n.Notify(context.Background(), sampleEvent()))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "transaction outcome", record["msg"])
	assert.Equal(t, "unresolved", record["status"])
	assert.Equal(t, "5sig", record["signature"])
	assert.Equal(t, string(xerrors.CodeConfirmationAmbiguous), record["code"])
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, false, record["retryable"])
}

func TestAlertEventsAreRoutedSeparately(t *testing.T) {
	ev := sampleEvent()
	ev.Alert = true
	ev.Severity = xerrors.SeverityWarning

	var buf bytes.Buffer
	audit := &AuditNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	require.NoError(t, audit.Notify(context.Background(), ev))
	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, true, record["alert"])
	assert.Equal(t, "warning", record["severity"])

	pub := &stubPublisher{}
	mq := &RabbitMQNotifier{ch: pub, exchange: "cryptonite.events", routingKey: TypeTransactionOutcome}
	require.NoError(t, mq.Notify(context.Background(), ev))
	assert.Equal(t, TypeTransactionOutcome+AlertRouteSuffix, pub.key)

	var decoded Event
	require.NoError(t, json.Unmarshal(pub.msg.Body, &decoded))
	assert.True(t, decoded.Alert)
}

type stubPublisher struct {
	exchange string
	key      string
	msg      amqp.Publishing
	closed   bool
}

func (s *stubPublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	s.exchange, s.key, s.msg = exchange, key, msg
	return nil
}

func (s *stubPublisher) Close() error {
	s.closed = true
	return nil
}

func TestRabbitMQNotifierPublishesJSON(t *testing.T) {
	pub := &stubPublisher{}
	n := &RabbitMQNotifier{ch: pub, exchange: "cryptonite.events", routingKey: TypeTransactionOutcome}

	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	assert.Equal(t, "cryptonite.events", pub.exchange)
	assert.Equal(t, TypeTransactionOutcome, pub.key)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.Equal(t, "d-1", pub.msg.MessageId)

	var decoded Event
	require.NoError(t, json.Unmarshal(pub.msg.Body, &decoded))
	assert.Equal(t, "swap", decoded.Kind)

	require.NoError(t, n.Close())
	assert.True(t, pub.closed)

	_, err := NewRabbitMQNotifier(RabbitMQConfig{})
	assert.Error(t, err)
}
