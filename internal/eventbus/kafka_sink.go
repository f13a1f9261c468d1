package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/ocpp-sim/chargepoint-simulator/internal/metrics"
	"github.com/rs/zerolog"
)

// KafkaSink publishes fleet events to one topic with an async
// producer, keyed by charge point id so one station's events stay in
// partition order.
type KafkaSink struct {
	producer sarama.AsyncProducer
	topic    string
	logger   zerolog.Logger
}

// NewKafkaSink dials brokers and starts the success/error drain
// goroutines. Call Close to flush and release the producer.
func NewKafkaSink(brokers []string, topic string, flushFrequency time.Duration, logger zerolog.Logger) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Flush.Frequency = flushFrequency
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka async producer: %w", err)
	}

	k := &KafkaSink{producer: producer, topic: topic, logger: logger}
	go k.drainSuccesses()
	go k.drainErrors()
	return k, nil
}

func (k *KafkaSink) Publish(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Name, err)
	}

	k.producer.Input() <- &sarama.ProducerMessage{
		Topic:    k.topic,
		Key:      sarama.StringEncoder(event.ChargePointID),
		Value:    sarama.ByteEncoder(data),
		Metadata: event,
	}
	return nil
}

func (k *KafkaSink) Close() error {
	if err := k.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

func (k *KafkaSink) drainSuccesses() {
	for msg := range k.producer.Successes() {
		if event, ok := msg.Metadata.(Event); ok {
			metrics.EventsPublished.WithLabelValues(event.Name).Inc()
		}
	}
}

func (k *KafkaSink) drainErrors() {
	for err := range k.producer.Errors() {
		k.logger.Error().Err(err.Err).Str("topic", k.topic).Msg("failed to publish event to kafka")
	}
}
