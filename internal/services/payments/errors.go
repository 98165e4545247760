package payments

import (
	"errors"
	"fmt"

	"github.com/ivankudzin/storefront/internal/domain/enums"
)

var (
	ErrValidationFailed   = errors.New("validation failed")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrUnknownOrder       = errors.New("unknown order")
	ErrAlreadyFailed      = errors.New("order already failed")
	ErrVerificationFailed = errors.New("payment verification failed")
	ErrFulfillmentFailed  = errors.New("fulfillment failed")
	ErrMalformedProof     = fmt.Errorf("%w: malformed proof", ErrVerificationFailed)
	ErrNoStoredProof      = errors.New("order has no stored proof")
	ErrDuplicateRequest   = errors.New("request with this idempotency key is in progress")
	ErrRateLimited        = errors.New("rate limited")
)

type RejectionError struct {
	Reason enums.RejectReason
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidationFailed, e.Reason)
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrValidationFailed
}

func reject(reason enums.RejectReason) error {
	return &RejectionError{Reason: reason}
}

type VerificationError struct {
	Reason enums.VerifyFailure
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrVerificationFailed, e.Reason)
}

func (e *VerificationError) Is(target error) bool {
	return target == ErrVerificationFailed
}

type RateLimitError struct {
	RetryAfterSec int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry after %ds", ErrRateLimited, e.RetryAfterSec)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
