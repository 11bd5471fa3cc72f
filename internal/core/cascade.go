package core

import "batchcore/pkg/domain"

// OrderCascade maps a new batch status to the order status applied to every
// attached order. Batch statuses with no entry leave dependent orders
// untouched.
type OrderCascade map[domain.BatchStatus]domain.OrderStatus

// DefaultOrderCascade returns the standard cascade mapping.
func DefaultOrderCascade() OrderCascade {
	return OrderCascade{
		domain.StatusInProduction: domain.OrderInProduction,
		domain.StatusReleased:     domain.OrderReleased,
		domain.StatusFailedQc:     domain.OrderFailedQc,
		domain.StatusDispatched:   domain.OrderDispatched,
		domain.StatusDelivered:    domain.OrderDelivered,
		domain.StatusCancelled:    domain.OrderCancelled,
	}
}
