package client

import (
	"errors"
	"fmt"
	"time"

	"signalgate/internal/domain"
)

// ErrReceiptNotFound matches any *ReceiptNotFoundError via errors.Is.
var ErrReceiptNotFound = errors.New("delivery receipt not found")

// ReceiptNotFoundError is returned by Send when the receipt wait exhausts
// its attempts or deadline. Unhandled carries every non-receipt message
// received while waiting, so nothing is lost.
type ReceiptNotFoundError struct {
	Attempts  int
	SentAt    time.Time
	Unhandled []domain.Message
}

func (e *ReceiptNotFoundError) Error() string {
	return fmt.Sprintf("%s after %d receive attempts (sent at %s)",
		ErrReceiptNotFound, e.Attempts, e.SentAt.UTC().Format(time.RFC3339Nano))
}

func (e *ReceiptNotFoundError) Is(target error) bool {
	return target == ErrReceiptNotFound
}
