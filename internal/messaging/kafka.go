package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/internal/config"
	"github.com/temcen/hyprec/pkg/models"
)

const dlqSuffix = "-dlq"

// RatingMessage is the payload of the ratings topic.
type RatingMessage struct {
	Event      models.RatingEvent `json:"event"`
	RetryCount int                `json:"retry_count"`
}

// ErrPermanent marks a handler error that retrying cannot fix. Such
// messages go to the dead letter topic on the first failure.
var ErrPermanent = errors.New("permanent failure")

// RatingHandler processes one rating event. Returning an error triggers a
// retry unless it wraps ErrPermanent.
type RatingHandler func(ctx context.Context, message RatingMessage) error

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Stats() kafka.ReaderStats
	Close() error
}

type MessageBus struct {
	ratingsWriter messageWriter
	trainedWriter messageWriter
	dlqWriter     messageWriter
	reader        messageReader

	ratingsTopic string
	trainedTopic string
	brokers      []string

	maxRetries int
	baseDelay  time.Duration
	logger     *logrus.Logger
}

func NewMessageBus(cfg *config.Config, logger *logrus.Logger) (*MessageBus, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("no Kafka brokers configured")
	}
	ratingsTopic := cfg.Kafka.Topics.Ratings
	trainedTopic := cfg.Kafka.Topics.ModelTrained

	ratingsWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        ratingsTopic,
		Balancer:     &kafka.Hash{}, // Key by user so a user's ratings stay ordered
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	trainedWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        trainedTopic,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          ratingsTopic,
		GroupID:        cfg.Kafka.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        ratingsTopic + dlqSuffix,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	mb := newMessageBus(ratingsWriter, trainedWriter, dlqWriter, reader, ratingsTopic, trainedTopic, logger)
	mb.brokers = cfg.Kafka.Brokers
	return mb, nil
}

// Ping dials the brokers until one answers.
func (mb *MessageBus) Ping(ctx context.Context) error {
	lastErr := errors.New("no Kafka brokers configured")
	for _, broker := range mb.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return lastErr
}

func newMessageBus(
	ratingsWriter, trainedWriter, dlqWriter messageWriter,
	reader messageReader,
	ratingsTopic, trainedTopic string,
	logger *logrus.Logger,
) *MessageBus {
	return &MessageBus{
		ratingsWriter: ratingsWriter,
		trainedWriter: trainedWriter,
		dlqWriter:     dlqWriter,
		reader:        reader,
		ratingsTopic:  ratingsTopic,
		trainedTopic:  trainedTopic,
		maxRetries:    3,
		baseDelay:     time.Second,
		logger:        logger,
	}
}

func (mb *MessageBus) PublishRating(ctx context.Context, event models.RatingEvent) error {
	messageBytes, err := json.Marshal(RatingMessage{Event: event})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	userKey := strconv.FormatInt(event.UserID, 10)
	kafkaMessage := kafka.Message{
		Key:   []byte(userKey),
		Value: messageBytes,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID.String())},
			{Key: "user_id", Value: []byte(userKey)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.ratingsWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		mb.logger.WithError(err).WithField("event_id", event.EventID).Error("Failed to publish rating to Kafka")
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"event_id":    event.EventID,
		"user_id":     event.UserID,
		"document_id": event.DocumentID,
		"topic":       mb.ratingsTopic,
	}).Debug("Rating published to Kafka")

	return nil
}

func (mb *MessageBus) PublishModelTrained(ctx context.Context, event models.ModelTrainedEvent) error {
	messageBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(event.JobID.String()),
		Value: messageBytes,
		Headers: []kafka.Header{
			{Key: "job_id", Value: []byte(event.JobID.String())},
			{Key: "content_based", Value: []byte(event.ContentBased)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.trainedWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"job_id": event.JobID,
		"topic":  mb.trainedTopic,
	}).Info("Model trained event published")

	return nil
}

// ConsumeRatings reads rating events until ctx is done. Events the handler
// keeps failing on are moved to the dead letter topic.
func (mb *MessageBus) ConsumeRatings(ctx context.Context, handler RatingHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		message, err := mb.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mb.logger.WithError(err).Error("Failed to read message from Kafka")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(mb.baseDelay):
			}
			continue
		}

		var ratingMessage RatingMessage
		if err := json.Unmarshal(message.Value, &ratingMessage); err != nil {
			mb.logger.WithError(err).Error("Failed to unmarshal Kafka message")
			if dlqErr := mb.sendToDLQ(ctx, ratingMessage, message.Value, err); dlqErr != nil {
				mb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
			}
			continue
		}

		if err := mb.processWithRetry(ctx, &ratingMessage, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mb.logger.WithError(err).WithField("event_id", ratingMessage.Event.EventID).Error("Failed to process message after retries")
			if dlqErr := mb.sendToDLQ(ctx, ratingMessage, message.Value, err); dlqErr != nil {
				mb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
			}
		}
	}
}

func (mb *MessageBus) processWithRetry(ctx context.Context, message *RatingMessage, handler RatingHandler) error {
	for attempt := 0; attempt <= mb.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			delay := mb.baseDelay * time.Duration(1<<uint(attempt-1))
			mb.logger.WithFields(logrus.Fields{
				"event_id": message.Event.EventID,
				"attempt":  attempt,
				"delay":    delay,
			}).Info("Retrying message processing")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		message.RetryCount = attempt
		if err := handler(ctx, *message); err != nil {
			mb.logger.WithError(err).WithFields(logrus.Fields{
				"event_id": message.Event.EventID,
				"attempt":  attempt,
			}).Warn("Message processing failed")

			if errors.Is(err, ErrPermanent) {
				return err
			}
			if attempt == mb.maxRetries {
				return fmt.Errorf("max retries exceeded: %w", err)
			}
			continue
		}

		return nil
	}

	return fmt.Errorf("unexpected retry loop exit")
}

func (mb *MessageBus) sendToDLQ(ctx context.Context, message RatingMessage, raw []byte, originalError error) error {
	dlqMessage := map[string]interface{}{
		"original_message": json.RawMessage(raw),
		"retry_count":      message.RetryCount,
		"error":            originalError.Error(),
		"dlq_timestamp":    time.Now(),
	}
	if !json.Valid(raw) {
		dlqMessage["original_message"] = string(raw)
	}

	dlqBytes, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(message.Event.EventID.String()),
		Value: dlqBytes,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(message.Event.EventID.String())},
			{Key: "original_topic", Value: []byte(mb.ratingsTopic)},
			{Key: "error", Value: []byte(originalError.Error())},
		},
	}

	if err := mb.dlqWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"event_id": message.Event.EventID,
		"error":    originalError.Error(),
	}).Warn("Message sent to DLQ")

	return nil
}

func (mb *MessageBus) Close() error {
	var errs []error

	if err := mb.ratingsWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close ratings producer: %w", err))
	}

	if err := mb.trainedWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close model producer: %w", err))
	}

	if err := mb.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}

	if err := mb.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing message bus: %v", errs)
	}

	return nil
}

// GetMetrics returns Kafka metrics for monitoring
func (mb *MessageBus) GetMetrics() map[string]interface{} {
	stats := mb.reader.Stats()
	return map[string]interface{}{
		"consumer_lag":    stats.Lag,
		"consumer_offset": stats.Offset,
		"messages_read":   stats.Messages,
		"bytes_read":      stats.Bytes,
		"rebalances":      stats.Rebalances,
		"timeouts":        stats.Timeouts,
		"errors":          stats.Errors,
	}
}
