package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for retry semantics and HTTP mapping.
type Kind int

const (
	// Validation: malformed or missing input. Caller fixes and retries.
	Validation Kind = iota
	// StateConflict: the entity is not in a state that permits the
	// operation. Caller must refresh state before retrying.
	StateConflict
	// Authorization: the actor lacks the required relationship to the
	// entity.
	Authorization
	// NotFound: the entity does not exist.
	NotFound
	// ConcurrencyConflict: a lock or precondition check failed. The
	// whole operation is safe to retry.
	ConcurrencyConflict
	// Reconciliation: a settlement partially persisted. Not safe to
	// retry blindly; must reach an operator or audit path.
	Reconciliation
	// Internal: everything else.
	Internal
)

// Stable reason codes returned to callers.
const (
	ReasonListingNotActive       = "listing_not_active"
	ReasonSelfBidForbidden       = "self_bid_forbidden"
	ReasonBidTooLow              = "bid_too_low"
	ReasonBidTooHigh             = "bid_too_high"
	ReasonDuplicatePendingBid    = "duplicate_pending_bid"
	ReasonOwnerAddressIncomplete = "owner_address_incomplete"
	ReasonAddressIncomplete      = "delivery_address_incomplete"
	ReasonNotOwner               = "not_owner"
	ReasonBidNotFound            = "bid_not_found"
	ReasonListingNotFound        = "listing_not_found"
	ReasonOrderNotFound          = "order_not_found"
	ReasonUserNotFound           = "user_not_found"
	ReasonNotCounterparty        = "not_counterparty"
	ReasonNotSeller              = "not_seller"
	ReasonNotBuyer               = "not_buyer"
	ReasonAdminOnly              = "admin_only"
	ReasonInvalidTransition      = "invalid_transition"
	ReasonOrderNotCancellable    = "order_not_cancellable"
	ReasonReviewExists           = "review_already_exists"
	ReasonOrderNotCompleted      = "order_not_completed"
	ReasonWriteConflict          = "write_conflict"
	ReasonSettlementIncomplete   = "settlement_incomplete"
	ReasonInvalidInput           = "invalid_input"
)

// Error is a classified failure with a stable reason code and a
// human-readable message.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// Wrap builds a classified error around an underlying cause.
func Wrap(kind Kind, reason, message string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, Err: err}
}

// As extracts an *Error from err's chain, or nil.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	e := As(err)
	return e != nil && e.Kind == kind
}

// HTTPStatus maps an error to the status code the API layer returns.
// Unclassified errors are internal.
func HTTPStatus(err error) int {
	e := As(err)
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case Validation:
		return http.StatusBadRequest
	case Authorization:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case StateConflict, ConcurrencyConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
