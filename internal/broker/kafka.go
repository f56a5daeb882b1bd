package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"chat4all/internal/config"
	"chat4all/internal/constants"
	"chat4all/internal/logger"
	"chat4all/pkg/logging"
	"chat4all/pkg/metrics"
	"chat4all/pkg/tracing"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr: kafka.TCP(cfg.Brokers...),
		// Hash balancer keeps all records sharing a key on one partition.
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaProducer{writer: w, logger: log}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	headers := []kafka.Header{}
	headers = tracing.InjectTraceContext(ctx, headers)

	err = p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     []byte(key),
			Value:   body,
			Headers: headers,
			Time:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.KafkaMessagesWrittenTotal.WithLabelValues(topic).Inc()
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	reader      *kafka.Reader
	logger      logger.Logger
	serviceName string

	redeliveryInitial time.Duration
	redeliveryMax     time.Duration
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		cfg:               cfg,
		logger:            log,
		serviceName:       "unknown",
		redeliveryInitial: constants.KafkaRedeliveryInitialInterval,
		redeliveryMax:     constants.KafkaRedeliveryMaxInterval,
	}
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume fetches records one at a time and commits each offset only after
// its handler succeeds. A handler error keeps the loop on the same record:
// committing a later offset would acknowledge every earlier one on the
// partition, so the failed record is re-handled in place under backoff until
// it succeeds. Handlers therefore have to be idempotent.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"service_name", c.serviceName,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, c.serviceName)
		c.logger.InfowCtx(consumeCtx, "Started consuming",
			"topic", topic,
		)

		for {
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				time.Sleep(time.Second)
				continue
			}

			metrics.KafkaMessagesReadTotal.WithLabelValues(topic).Inc()

			msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume", m.Headers)
			msgCtx = logging.WithServiceName(msgCtx, c.serviceName)

			if err := c.handleUntilDone(msgCtx, topic, m, handler); err != nil {
				// Only a canceled context interrupts the in-place retries.
				span.End()
				c.logger.InfowCtx(consumeCtx, "Stopped consuming",
					"topic", topic,
					"reason", "context canceled",
				)
				return
			}

			if err := c.reader.CommitMessages(ctx, m); err != nil {
				c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
					"error", err,
					"topic", topic,
				)
			}
			span.End()
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

// handleUntilDone invokes the handler on one record and re-invokes it under
// exponential backoff for as long as it keeps failing. The record's offset
// must not be skipped: commits are cumulative per partition, so handing back
// control before the handler succeeds would let a later record's commit
// acknowledge this one. Returns non-nil only when the context is canceled.
func (c *KafkaConsumer) handleUntilDone(ctx context.Context, topic string, m kafka.Message, handler HandlerFunc) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.redeliveryInitial
	bo.MaxInterval = c.redeliveryMax
	bo.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		if err := handler(ctx, string(m.Key), m.Value); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, nextDelay time.Duration) {
		metrics.KafkaHandlerRedeliveriesTotal.WithLabelValues(topic).Inc()
		c.logger.ErrorwCtx(ctx, "Handler failed, re-handling record in place",
			"error", err,
			"topic", topic,
			"partition", m.Partition,
			"offset", m.Offset,
			"next_delay", nextDelay,
		)
	})
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	c.wg.Wait()
	return err
}
