package service

import (
	"context"
	"errors"
	"fmt"

	"shop-service/internal/apperr"
	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

// PaymentEventHandler applies payment provider callbacks to orders. Each
// event id is applied at most once.
type PaymentEventHandler struct {
	repo   store.Repository
	orders *OrderService
	admin  *AdminService
	logger *zap.Logger
}

// NewPaymentEventHandler creates a new payment event handler
func NewPaymentEventHandler(repo store.Repository, orders *OrderService, admin *AdminService) *PaymentEventHandler {
	return &PaymentEventHandler{
		repo:   repo,
		orders: orders,
		admin:  admin,
		logger: util.GetLogger(),
	}
}

// HandlePaymentSuccess marks the order paid
func (h *PaymentEventHandler) HandlePaymentSuccess(ctx context.Context, event *models.PaymentSuccessEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentEventHandler.HandlePaymentSuccess")
	defer span.End()

	return h.once(ctx, event.BaseEvent, models.EventTypePaymentSuccess, func() error {
		h.logger.Info("Handling payment success",
			zap.Int64("order_id", event.OrderID),
			zap.String("tx_id", event.TxID))

		_, err := h.orders.ConfirmPayment(ctx, event.OrderID)
		return err
	})
}

// HandlePaymentFailed sets payment_status=failed unless the order is
// already paid.
func (h *PaymentEventHandler) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentEventHandler.HandlePaymentFailed")
	defer span.End()

	return h.once(ctx, event.BaseEvent, models.EventTypePaymentFailed, func() error {
		h.logger.Warn("Handling payment failure",
			zap.Int64("order_id", event.OrderID),
			zap.String("reason", event.Reason))

		order, err := h.repo.GetOrderByID(ctx, event.OrderID)
		if err != nil {
			return err
		}
		if order.IsPaid {
			h.logger.Info("Ignoring failure for paid order", zap.Int64("order_id", order.ID))
			return nil
		}

		_, err = h.admin.setPaymentStatus(ctx, event.OrderID, fixedPaymentStatus(models.PaymentStatusFailed))
		return err
	})
}

func (h *PaymentEventHandler) once(ctx context.Context, base models.BaseEvent, eventType string, apply func() error) error {
	processed, err := h.repo.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		h.logger.Info("Event already processed", zap.String("event_id", base.EventID))
		util.PaymentEventsTotal.WithLabelValues(eventType, "duplicate").Inc()
		return nil
	}

	err = apply()
	switch {
	case err == nil:
		util.PaymentEventsTotal.WithLabelValues(eventType, "applied").Inc()
	case apperr.CodeOf(err) == apperr.CodeNotFound || errors.Is(err, store.ErrNotFound):
		// Retrying cannot succeed for an unknown order.
		h.logger.Warn("Payment event for unknown order", zap.String("event_id", base.EventID), zap.Error(err))
		util.PaymentEventsTotal.WithLabelValues(eventType, "unknown_order").Inc()
	default:
		util.PaymentEventsTotal.WithLabelValues(eventType, "error").Inc()
		return err
	}

	if err := h.repo.MarkEventProcessed(ctx, base.EventID, eventType); err != nil {
		h.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

func fixedPaymentStatus(status models.PaymentStatus) func() (models.PaymentStatus, error) {
	return func() (models.PaymentStatus, error) { return status, nil }
}
