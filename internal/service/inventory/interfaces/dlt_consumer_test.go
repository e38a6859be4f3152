package interfaces

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/pkg/mq"
)

func TestDltConsumer_LogsAndCommitsEveryDeadLetter(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	dead := kafka.Message{
		Topic: "inventory.dlq.rollback",
		Key:   []byte("42"),
		Value: []byte(`{"orderId":42}`),
		Headers: []kafka.Header{
			{Key: mq.HeaderOriginalTopic, Value: []byte("inventory.rollback.shipment_lost")},
			{Key: mq.HeaderAttempt, Value: []byte("5")},
			{Key: mq.HeaderExceptionMessage, Value: []byte("lock wait timeout")},
		},
	}
	reader := &queueReader{queue: []kafka.Message{dead}, committed: make(chan kafka.Message, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewDltConsumer(reader).Run(ctx) }()

	select {
	case committed := <-reader.committed:
		assert.Equal(t, "42", string(committed.Key))
	case <-time.After(2 * time.Second):
		t.Fatal("dead letter was not committed")
	}
	cancel()
	require.NoError(t, <-done)

	var entry map[string]any
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line map[string]any
		if json.Unmarshal(scanner.Bytes(), &line) == nil && line["reason"] == "dead_letter_message_received" {
			entry = line
		}
	}
	require.NotNil(t, entry, "dead letter was not logged")
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "inventory.rollback.shipment_lost", entry["original_topic"])
	assert.Equal(t, "5", entry["attempt"])
	assert.Equal(t, "lock wait timeout", entry["exception_message"])
}
