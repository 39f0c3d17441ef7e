// Package orders implements the post-settlement order lifecycle: who
// may move which status where, and the coupled transitions that must
// land together. The functions mutate the order in memory; the store
// persists the whole status snapshot in one write.
package orders

import (
	"fmt"
	"time"

	"github.com/agrobid/marketplace/internal/apperr"
	"github.com/agrobid/marketplace/internal/models"
)

// Actor identifies who is attempting a lifecycle operation.
type Actor struct {
	UserID int
	Role   string
}

// Admin reports whether the actor holds the admin role.
func (a Actor) Admin() bool { return a.Role == models.RoleAdmin }

var deliveryStatuses = map[string]bool{
	models.DeliveryPending:        true,
	models.DeliveryConfirmed:      true,
	models.DeliveryShipped:        true,
	models.DeliveryOutForDelivery: true,
	models.DeliveryDelivered:      true,
	models.DeliveryCancelled:      true,
}

var paymentStatuses = map[string]bool{
	models.PaymentPending:  true,
	models.PaymentPaid:     true,
	models.PaymentFailed:   true,
	models.PaymentRefunded: true,
}

var orderStatuses = map[string]bool{
	models.OrderProcessing: true,
	models.OrderCompleted:  true,
	models.OrderCancelled:  true,
	models.OrderRefunded:   true,
}

// UpdateDelivery moves the delivery status. Permitted to the seller of
// record or an admin. Setting "delivered" also completes the order and
// stamps DeliveredAt; the caller persists both in the same write.
func UpdateDelivery(o *models.Order, actor Actor, status string, now time.Time) error {
	if !actor.Admin() && actor.UserID != o.SellerID {
		return apperr.New(apperr.Authorization, apperr.ReasonNotSeller,
			"only the seller or an admin may update delivery status")
	}
	if !deliveryStatuses[status] {
		return apperr.New(apperr.Validation, apperr.ReasonInvalidInput,
			fmt.Sprintf("unknown delivery status %q", status))
	}
	if o.OrderStatus == models.OrderCancelled {
		return apperr.New(apperr.StateConflict, apperr.ReasonInvalidTransition,
			"order is cancelled")
	}
	if o.DeliveryStatus == models.DeliveryDelivered || o.DeliveryStatus == models.DeliveryCancelled {
		return apperr.New(apperr.StateConflict, apperr.ReasonInvalidTransition,
			fmt.Sprintf("delivery status %s is terminal", o.DeliveryStatus))
	}

	o.DeliveryStatus = status
	if status == models.DeliveryDelivered {
		o.OrderStatus = models.OrderCompleted
		o.DeliveredAt = &now
	}
	return nil
}

// UpdatePayment moves the payment status. Permitted to the seller of
// record or an admin. Payment status is recorded, not processed.
func UpdatePayment(o *models.Order, actor Actor, status string) error {
	if !actor.Admin() && actor.UserID != o.SellerID {
		return apperr.New(apperr.Authorization, apperr.ReasonNotSeller,
			"only the seller or an admin may update payment status")
	}
	if !paymentStatuses[status] {
		return apperr.New(apperr.Validation, apperr.ReasonInvalidInput,
			fmt.Sprintf("unknown payment status %q", status))
	}
	if o.OrderStatus == models.OrderCancelled {
		return apperr.New(apperr.StateConflict, apperr.ReasonInvalidTransition,
			"order is cancelled")
	}
	o.PaymentStatus = status
	return nil
}

// SetStatus is the administrative override on the order status itself.
func SetStatus(o *models.Order, actor Actor, status string) error {
	if !actor.Admin() {
		return apperr.New(apperr.Authorization, apperr.ReasonAdminOnly,
			"only an admin may set the order status directly")
	}
	if !orderStatuses[status] {
		return apperr.New(apperr.Validation, apperr.ReasonInvalidInput,
			fmt.Sprintf("unknown order status %q", status))
	}
	o.OrderStatus = status
	return nil
}

// Cancel cancels the order on behalf of either counterparty. Not
// possible once completed, already cancelled, or delivered. Cascades:
// order cancelled, delivery cancelled, payment refunded.
func Cancel(o *models.Order, actor Actor, now time.Time) error {
	if !actor.Admin() && !o.Counterparty(actor.UserID) {
		return apperr.New(apperr.Authorization, apperr.ReasonNotCounterparty,
			"only the buyer or seller may cancel this order")
	}
	if o.OrderStatus == models.OrderCompleted || o.OrderStatus == models.OrderCancelled {
		return apperr.New(apperr.StateConflict, apperr.ReasonOrderNotCancellable,
			fmt.Sprintf("order is already %s", o.OrderStatus))
	}
	if o.DeliveryStatus == models.DeliveryDelivered {
		return apperr.New(apperr.StateConflict, apperr.ReasonOrderNotCancellable,
			"order has already been delivered")
	}

	o.OrderStatus = models.OrderCancelled
	o.DeliveryStatus = models.DeliveryCancelled
	o.PaymentStatus = models.PaymentRefunded
	o.CancelledAt = &now
	return nil
}

// AttachReview records the buyer's rating and review. Write-once, and
// only on a completed order.
func AttachReview(o *models.Order, actor Actor, rating int, review string, now time.Time) error {
	if actor.UserID != o.BuyerID {
		return apperr.New(apperr.Authorization, apperr.ReasonNotBuyer,
			"only the buyer may review this order")
	}
	if o.OrderStatus != models.OrderCompleted {
		return apperr.New(apperr.StateConflict, apperr.ReasonOrderNotCompleted,
			"orders can only be reviewed after completion")
	}
	if o.Rating != nil || o.ReviewedAt != nil {
		return apperr.New(apperr.StateConflict, apperr.ReasonReviewExists,
			"this order has already been reviewed")
	}
	if rating < 1 || rating > 5 {
		return apperr.New(apperr.Validation, apperr.ReasonInvalidInput,
			"rating must be between 1 and 5")
	}

	o.Rating = &rating
	o.Review = &review
	o.ReviewedAt = &now
	return nil
}

// CanView reports whether the actor may read the order at all: seller,
// buyer, or admin.
func CanView(o *models.Order, actor Actor) bool {
	return actor.Admin() || o.Counterparty(actor.UserID)
}
