package service

import (
	"context"
	"time"

	"shop-service/internal/models"
)

// EventPublisher is satisfied by *broker.EventPublisher.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// CheckoutGuard is satisfied by *redisclient.Client.
type CheckoutGuard interface {
	GetIdempotentOrder(ctx context.Context, key string) (int64, bool, error)
	SetIdempotentOrder(ctx context.Context, key string, orderID int64, ttl time.Duration) error
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// NopPublisher drops every event. Used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error {
	return nil
}

func (NopPublisher) PublishOrderPaid(context.Context, *models.OrderPaidEvent) error {
	return nil
}

func (NopPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}
