package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/transfer-service/internal/domain"
)

type fakeWriter struct {
	messages []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublisher_WritesKeyedMessages(t *testing.T) {
	writer := &fakeWriter{}
	publisher := &Publisher{writer: writer}

	tx := domain.NewTransaction("tx-9", domain.TransferRequest{
		SourceAccountID: "12345",
		TargetAccountID: "67890",
		Amount:          decimal.RequireFromString("20"),
	}, time.Now())
	tx.Status = domain.StatusFailed

	require.NoError(t, publisher.PublishTransactionFailed(context.Background(), tx.ToEvent("Insufficient balance")))
	require.NoError(t, publisher.PublishTransactionCompleted(context.Background(), tx.ToEvent("")))
	publisher.Close()

	require.Len(t, writer.messages, 2)
	assert.Equal(t, TopicTransactionFailed, writer.messages[0].Topic)
	assert.Equal(t, TopicTransactionCompleted, writer.messages[1].Topic)
	assert.Equal(t, "tx-9", string(writer.messages[0].Key))
	assert.True(t, writer.closed)

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &event))
	assert.Equal(t, "Insufficient balance", event["errorMessage"])
}

func TestNewPublisher_ParsesBrokerList(t *testing.T) {
	publisher := NewPublisher(" broker-1:9092, ,broker-2:9092 ")
	writer, ok := publisher.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "broker-1:9092,broker-2:9092", writer.Addr.String())
}
