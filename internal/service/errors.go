package service

import (
	"errors"

	"github.com/flicky/marketplace-api/internal/dto"
)

// Error kinds. Every *Error unwraps to exactly one of these.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
)

// Error is a domain failure with a message safe to return to clients.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Kind }

func validationError(msg string) *Error { return &Error{Kind: ErrValidation, Message: msg} }
func notFoundError(msg string) *Error   { return &Error{Kind: ErrNotFound, Message: msg} }
func forbiddenError(msg string) *Error  { return &Error{Kind: ErrForbidden, Message: msg} }

var (
	ErrInvalidBody     = validationError(dto.MalformedMessage)
	ErrInvalidQuantity = validationError("The quantity must be a positive integer")

	ErrUserNotFound    = notFoundError("No user with this user_id exists")
	ErrOrderNotFound   = notFoundError("No order with this order_id exists")
	ErrProductNotFound = notFoundError("No product with this product_id exists")

	ErrOrderAccessDenied     = forbiddenError("You do not have access to this order")
	ErrOrderNotMirrored      = forbiddenError("This order is not in this user's orders")
	ErrOrderNotPending       = forbiddenError("You cannot add products to a non-pending order")
	ErrOutOfStock            = forbiddenError("This product is out of stock")
	ErrProductAlreadyInOrder = forbiddenError("This product is already in this order")
	ErrProductNotInOrder     = forbiddenError("This product is not in this order")
	ErrStatusFrozen          = forbiddenError("Order status can no longer be changed")
)
