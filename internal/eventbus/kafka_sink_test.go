package eventbus

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeAsyncProducer is a minimal sarama.AsyncProducer stand-in: enough
// to exercise Publish/Close without a live broker.
type fakeAsyncProducer struct {
	input     chan *sarama.ProducerMessage
	successes chan *sarama.ProducerMessage
	errors    chan *sarama.ProducerError
	closed    bool
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:     make(chan *sarama.ProducerMessage, 4),
		successes: make(chan *sarama.ProducerMessage, 4),
		errors:    make(chan *sarama.ProducerError, 4),
	}
}

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage    { return f.input }
func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return f.successes }
func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError     { return f.errors }
func (f *fakeAsyncProducer) AsyncClose()                              { f.closed = true }
func (f *fakeAsyncProducer) Close() error                             { f.closed = true; return nil }
func (f *fakeAsyncProducer) IsTransactional() bool                    { return false }
func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag  { return 0 }
func (f *fakeAsyncProducer) BeginTxn() error                          { return nil }
func (f *fakeAsyncProducer) CommitTxn() error                         { return nil }
func (f *fakeAsyncProducer) AbortTxn() error                          { return nil }
func (f *fakeAsyncProducer) AddOffsetsToTxn(map[string][]*sarama.PartitionOffsetMetadata, string) error {
	return nil
}
func (f *fakeAsyncProducer) AddMessageToTxn(*sarama.ConsumerMessage, string, *string) error {
	return nil
}

func TestKafkaSinkPublishSendsKeyedMessage(t *testing.T) {
	producer := newFakeAsyncProducer()
	sink := &KafkaSink{producer: producer, topic: "cpsim-events", logger: zerolog.Nop()}

	err := sink.Publish(Event{ChargePointID: "CP1", Name: "transactionStarted", Timestamp: "2026-01-01T00:00:00Z"})
	require.NoError(t, err)

	select {
	case msg := <-producer.input:
		require.Equal(t, "cpsim-events", msg.Topic)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		require.Equal(t, "CP1", string(key))
	case <-time.After(time.Second):
		t.Fatal("expected a message on the producer input channel")
	}
}

func TestKafkaSinkCloseClosesProducer(t *testing.T) {
	producer := newFakeAsyncProducer()
	sink := &KafkaSink{producer: producer, topic: "cpsim-events", logger: zerolog.Nop()}

	require.NoError(t, sink.Close())
	require.True(t, producer.closed)
}

func TestNewKafkaSinkFailsWithoutBroker(t *testing.T) {
	_, err := NewKafkaSink([]string{"127.0.0.1:1"}, "cpsim-events", 500*time.Millisecond, zerolog.Nop())
	require.Error(t, err)
}
