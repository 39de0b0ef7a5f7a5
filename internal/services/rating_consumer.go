package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/temcen/hyprec/internal/dataset"
	"github.com/temcen/hyprec/internal/messaging"
	"github.com/temcen/hyprec/pkg/models"
)

// RatingSubscriber delivers rating messages until ctx is done.
type RatingSubscriber interface {
	ConsumeRatings(ctx context.Context, handler messaging.RatingHandler) error
}

// RatingEventHandler stores a rating event.
type RatingEventHandler interface {
	HandleRatingEvent(ctx context.Context, event models.RatingEvent) error
}

// RatingConsumer feeds rating events from the message bus into the
// recommender service.
type RatingConsumer struct {
	subscriber RatingSubscriber
	handler    RatingEventHandler
	logger     *logrus.Logger
}

func NewRatingConsumer(subscriber RatingSubscriber, handler RatingEventHandler, logger *logrus.Logger) *RatingConsumer {
	return &RatingConsumer{
		subscriber: subscriber,
		handler:    handler,
		logger:     logger,
	}
}

// Run consumes until ctx is cancelled. Cancellation is not an error.
func (c *RatingConsumer) Run(ctx context.Context) error {
	c.logger.Info("Rating consumer started")
	err := c.subscriber.ConsumeRatings(ctx, c.handle)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.logger.Info("Rating consumer stopped")
		return nil
	}
	return err
}

func (c *RatingConsumer) handle(ctx context.Context, message messaging.RatingMessage) error {
	if message.Event.UserID < 0 || message.Event.DocumentID < 0 {
		return fmt.Errorf("%w: rating event has negative identifiers", messaging.ErrPermanent)
	}

	if err := c.handler.HandleRatingEvent(ctx, message.Event); err != nil {
		if errors.Is(err, dataset.ErrUnknownArticle) {
			err = fmt.Errorf("%w: %w", messaging.ErrPermanent, err)
		}
		c.logger.WithError(err).WithFields(logrus.Fields{
			"event_id":    message.Event.EventID,
			"retry_count": message.RetryCount,
		}).Warn("Failed to handle rating event")
		return err
	}
	return nil
}
