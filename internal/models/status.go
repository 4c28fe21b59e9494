package models

import (
	"fmt"
	"strings"

	"shop-service/internal/apperr"
)

type OrderStatus string

// Order statuses
const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

var PaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

func (s OrderStatus) IsValid() bool {
	for _, v := range OrderStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s PaymentStatus) IsValid() bool {
	for _, v := range PaymentStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// ParseOrderStatus validates raw against the fulfillment status set.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(raw)
	if !status.IsValid() {
		allowed := make([]string, len(OrderStatuses))
		for i, v := range OrderStatuses {
			allowed[i] = string(v)
		}
		return "", invalidChoice("status", allowed)
	}
	return status, nil
}

// ParsePaymentStatus validates raw against the payment status set.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	status := PaymentStatus(raw)
	if !status.IsValid() {
		allowed := make([]string, len(PaymentStatuses))
		for i, v := range PaymentStatuses {
			allowed[i] = string(v)
		}
		return "", invalidChoice("payment status", allowed)
	}
	return status, nil
}

func invalidChoice(field string, allowed []string) error {
	msg := fmt.Sprintf("Invalid %s. Must be one of: %s", field, strings.Join(allowed, ", "))
	return apperr.Validation(msg).WithDetails(map[string]any{"allowed": allowed})
}

// CheckStatusTransition is the single policy point for fulfillment status
// changes. Every transition between known states is currently allowed.
func CheckStatusTransition(from, to OrderStatus) error {
	if !to.IsValid() {
		_, err := ParseOrderStatus(string(to))
		return err
	}
	return nil
}

// CheckPaymentTransition is the policy point for payment status changes.
func CheckPaymentTransition(from, to PaymentStatus) error {
	if !to.IsValid() {
		_, err := ParsePaymentStatus(string(to))
		return err
	}
	return nil
}
