package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig configures the Kafka event sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BufferSize   int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards events to a Kafka topic from a background goroutine.
// Handle never blocks: when the buffer is full the event is dropped.
type KafkaSink struct {
	writer  messageWriter
	queue   chan Event
	logger  *zap.Logger
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
	timeout time.Duration
}

// NewKafkaSink creates a sink writing to cfg.Topic.
func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink: topic is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return newKafkaSink(w, cfg.BufferSize, cfg.WriteTimeout, logger), nil
}

func newKafkaSink(w messageWriter, buffer int, timeout time.Duration, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 1024
	}
	s := &KafkaSink{
		writer:  w,
		queue:   make(chan Event, buffer),
		logger:  logger,
		timeout: timeout,
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Handle implements Handler.
func (s *KafkaSink) Handle(e Event) {
	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
		s.logger.Warn("kafka sink buffer full, dropping event", zap.String("kind", string(e.Kind())))
	}
}

// Dropped returns how many events were discarded.
func (s *KafkaSink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *KafkaSink) loop() {
	defer s.wg.Done()
	for e := range s.queue {
		value, err := Encode(e)
		if err != nil {
			s.logger.Error("encode event", zap.Error(err))
			continue
		}
		msg := kafka.Message{Key: []byte(eventKey(e)), Value: value, Time: e.OccurredAt()}

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err = s.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			s.logger.Error("publish event to kafka",
				zap.String("kind", string(e.Kind())),
				zap.Error(err),
			)
		}
	}
}

// eventKey keeps events for one symbol in one partition.
func eventKey(e Event) string {
	switch ev := e.(type) {
	case SignalGenerated:
		return ev.Symbol
	case TradeOpened:
		return ev.Symbol
	case TradeClosed:
		return ev.Symbol
	case TradeRejected:
		return ev.Symbol
	case OrderFailed:
		return ev.Symbol
	default:
		return string(e.Kind())
	}
}

// Close drains queued events and closes the writer. Handle must not be
// called after Close.
func (s *KafkaSink) Close() error {
	var err error
	s.once.Do(func() {
		close(s.queue)
		s.wg.Wait()
		err = s.writer.Close()
	})
	return err
}
