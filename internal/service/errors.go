package service

import (
	"errors"
	"fmt"

	"village-store/internal/cart"
	"village-store/internal/store"
)

var (
	// ErrAuthRequired is returned when an operation needs a logged-in identity
	ErrAuthRequired = cart.ErrAuthRequired
	// ErrValidation is wrapped by every input rejection
	ErrValidation = errors.New("validation failed")
	// ErrStore is wrapped by every persistence failure
	ErrStore = errors.New("store error")
	// ErrNotFound is returned when a resource does not exist or is not owned by the caller
	ErrNotFound = errors.New("not found")
	// ErrUpstream is wrapped by failures of external services
	ErrUpstream = errors.New("upstream error")
	// ErrConflict is wrapped when the request collides with the current state of a resource
	ErrConflict = errors.New("conflict")

	ErrEmptyCart          = fmt.Errorf("cart is empty: %w", ErrValidation)
	ErrOutOfStock         = fmt.Errorf("not enough stock: %w", ErrConflict)
	ErrCheckoutInProgress = fmt.Errorf("checkout with this key is still in progress: %w", ErrConflict)

	ErrOrderAlreadyCancelled = errors.New("order is already cancelled")
	ErrOrderDelivered        = errors.New("delivered orders cannot be cancelled")
)

// Notice is a short user-facing message describing the outcome of an operation
type Notice struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Variant     string `json:"variant,omitempty"`
}

const variantDestructive = "destructive"

func failureNotice(description string) *Notice {
	return &Notice{Title: "Error", Description: description, Variant: variantDestructive}
}

func loginRequiredNotice(description string) *Notice {
	return &Notice{Title: "Login Required", Description: description, Variant: variantDestructive}
}

func validationError(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrValidation)
}

// storeError tags a persistence failure; rows missing for the caller become ErrNotFound
func storeError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
