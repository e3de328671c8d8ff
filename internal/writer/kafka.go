package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"github.com/jmxtrans/jmxtrans-sub000/internal/config"
	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
)

// kafkaMessage is the JSON body of one message.
type kafkaMessage struct {
	Key       string            `json:"key"`
	Value     any               `json:"value"`
	Timestamp int64             `json:"timestamp"`
	Server    string            `json:"server"`
	Attribute string            `json:"attribute"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Kafka publishes one JSON message per value, keyed by the metric key.
type Kafka struct {
	keyer
	brokers     []string
	topic       string
	tags        map[string]string
	newProducer ProducerFunc
	logger      *zap.SugaredLogger

	mu       sync.Mutex
	producer sarama.SyncProducer
}

func NewKafka(cfg config.WriterConfig, newProducer ProducerFunc, logger *zap.SugaredLogger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka needs brokers and a topic", internalerrors.ErrInvalidWriterConfig)
	}
	return &Kafka{
		keyer:       newKeyer(cfg),
		brokers:     cfg.Brokers,
		topic:       cfg.Topic,
		tags:        cfg.Tags,
		newProducer: newProducer,
		logger:      logger,
	}, nil
}

// ProducerConfig is the sarama config of the writer's sync producer.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "jmxtrans"
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3
	return cfg
}

func (k *Kafka) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.producer != nil {
		return nil
	}
	producer, err := k.newProducer(k.brokers, ProducerConfig())
	if err != nil {
		return fmt.Errorf("kafka producer for %v: %w", k.brokers, err)
	}
	k.producer = producer
	return nil
}

func (k *Kafka) ValidateSetup(_ query.Endpoint, q *query.Query) error { return k.validate(q) }

func (k *Kafka) DoWrite(ctx context.Context, endpoint query.Endpoint, q *query.Query, results []result.Result) error {
	k.mu.Lock()
	producer := k.producer
	k.mu.Unlock()
	if producer == nil {
		return fmt.Errorf("kafka topic %s: not started", k.topic)
	}

	var msgs []*sarama.ProducerMessage
	for _, s := range k.samples(endpoint, q, results) {
		body, err := json.Marshal(kafkaMessage{
			Key:       s.Key,
			Value:     s.Value,
			Timestamp: s.Epoch,
			Server:    endpoint.Label(),
			Attribute: s.Attribute,
			Tags:      k.tags,
		})
		if err != nil {
			return fmt.Errorf("encoding %s: %w", s.Key, err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: k.topic,
			Key:   sarama.StringEncoder(s.Key),
			Value: sarama.ByteEncoder(body),
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("kafka topic %s: %w", k.topic, err)
	}
	k.logger.Debugw("published", "topic", k.topic, "messages", len(msgs))
	return nil
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.producer == nil {
		return nil
	}
	err := k.producer.Close()
	k.producer = nil
	return err
}
