package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shop-service/internal/apperr"
	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

const (
	maxTrackingNumberLen = 100
	queryDateLayout      = "2006-01-02"
)

// AdminService exposes the staff-only order operations. Callers are
// expected to have checked staff privileges already.
type AdminService struct {
	repo   store.Repository
	events EventPublisher
	logger *zap.Logger
}

// NewAdminService creates a new admin service
func NewAdminService(repo store.Repository, events EventPublisher) *AdminService {
	if events == nil {
		events = NopPublisher{}
	}
	return &AdminService{
		repo:   repo,
		events: events,
		logger: util.GetLogger(),
	}
}

// AdminOrderQuery holds the raw admin list filters. Empty fields are ignored.
// Dates are YYYY-MM-DD in UTC and both ends are inclusive.
type AdminOrderQuery struct {
	Status        string `form:"status"`
	PaymentStatus string `form:"payment_status"`
	Search        string `form:"search"`
	StartDate     string `form:"start_date"`
	EndDate       string `form:"end_date"`
}

// ListOrders returns every order matching the filters, newest first.
func (s *AdminService) ListOrders(ctx context.Context, query AdminOrderQuery) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "AdminService.ListOrders")
	defer span.End()

	filter := models.OrderFilter{Search: strings.TrimSpace(query.Search)}
	if query.Status != "" {
		status, err := models.ParseOrderStatus(query.Status)
		if err != nil {
			return nil, err
		}
		filter.Status = status
	}
	if query.PaymentStatus != "" {
		status, err := models.ParsePaymentStatus(query.PaymentStatus)
		if err != nil {
			return nil, err
		}
		filter.PaymentStatus = status
	}
	if query.StartDate != "" {
		from, err := parseQueryDate("start_date", query.StartDate)
		if err != nil {
			return nil, err
		}
		filter.CreatedFrom = &from
	}
	if query.EndDate != "" {
		end, err := parseQueryDate("end_date", query.EndDate)
		if err != nil {
			return nil, err
		}
		to := end.AddDate(0, 0, 1)
		filter.CreatedTo = &to
	}

	return listOrdersWithItems(ctx, s.repo, filter)
}

func parseQueryDate(field, raw string) (time.Time, error) {
	t, err := time.Parse(queryDateLayout, raw)
	if err != nil {
		return time.Time{}, apperr.Validation(fmt.Sprintf("Invalid %s. Use YYYY-MM-DD", field)).
			WithDetails(map[string]any{"field": field})
	}
	return t, nil
}

// UpdateStatus sets the fulfillment status. An unknown order is reported
// before an invalid status.
func (s *AdminService) UpdateStatus(ctx context.Context, orderID int64, raw string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "AdminService.UpdateStatus")
	defer span.End()

	var from, to models.OrderStatus
	order, err := s.saveOrder(ctx, orderID, func(o *models.Order) error {
		var err error
		if to, err = models.ParseOrderStatus(raw); err != nil {
			return err
		}
		if err := models.CheckStatusTransition(o.Status, to); err != nil {
			return err
		}
		from = o.Status
		o.Status = to
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.OrderStatusUpdatesTotal.WithLabelValues("status", string(to)).Inc()
	s.publishChange(ctx, models.EventTypeOrderStatusChanged, order.ID, string(from), string(to))
	return order, nil
}

// UpdatePaymentStatus sets the payment status. Unlike mark-paid it never
// touches paid_at.
func (s *AdminService) UpdatePaymentStatus(ctx context.Context, orderID int64, raw string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "AdminService.UpdatePaymentStatus")
	defer span.End()

	order, err := s.setPaymentStatus(ctx, orderID, func() (models.PaymentStatus, error) {
		return models.ParsePaymentStatus(raw)
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return order, nil
}

// UpdateTracking sets or clears the carrier tracking number.
func (s *AdminService) UpdateTracking(ctx context.Context, orderID int64, trackingNumber string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "AdminService.UpdateTracking")
	defer span.End()

	trackingNumber = strings.TrimSpace(trackingNumber)
	if len(trackingNumber) > maxTrackingNumberLen {
		return nil, apperr.Validation(fmt.Sprintf("Tracking number must be at most %d characters", maxTrackingNumberLen))
	}

	order, err := s.saveOrder(ctx, orderID, func(o *models.Order) error {
		o.TrackingNumber = trackingNumber
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.OrderStatusUpdatesTotal.WithLabelValues("tracking_number", "set").Inc()
	s.logger.Info("Tracking number updated",
		zap.Int64("order_id", order.ID),
		zap.String("tracking_number", trackingNumber))
	return order, nil
}

// setPaymentStatus resolves the target status after the order is loaded.
func (s *AdminService) setPaymentStatus(ctx context.Context, orderID int64, target func() (models.PaymentStatus, error)) (*models.Order, error) {
	var from, to models.PaymentStatus
	order, err := s.saveOrder(ctx, orderID, func(o *models.Order) error {
		var err error
		if to, err = target(); err != nil {
			return err
		}
		if err := models.CheckPaymentTransition(o.PaymentStatus, to); err != nil {
			return err
		}
		from = o.PaymentStatus
		o.PaymentStatus = to
		// The status edit wins over a stale flag.
		o.IsPaid = to == models.PaymentStatusPaid
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.OrderStatusUpdatesTotal.WithLabelValues("payment_status", string(to)).Inc()
	s.publishChange(ctx, models.EventTypePaymentStatusChanged, order.ID, string(from), string(to))
	return order, nil
}

// saveOrder loads the order, applies mutate, reconciles the payment flag
// and persists the result in one transaction.
func (s *AdminService) saveOrder(ctx context.Context, orderID int64, mutate func(*models.Order) error) (*models.Order, error) {
	var order *models.Order
	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		var err error
		order, err = loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := mutate(order); err != nil {
			return err
		}
		order.SyncPayment()
		return tx.SaveOrderState(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *AdminService) publishChange(ctx context.Context, eventType string, orderID int64, from, to string) {
	s.logger.Info("Order updated",
		zap.String("event_type", eventType),
		zap.Int64("order_id", orderID),
		zap.String("from", from),
		zap.String("to", to))

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.NewBaseEvent(eventType),
		OrderID:   orderID,
		From:      from,
		To:        to,
	}
	if err := s.events.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish status change event", zap.Error(err))
	}
}
