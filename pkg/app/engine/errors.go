package engine

import (
	"errors"

	"github.com/uhyunpark/zklite/pkg/app/core/market"
	"github.com/uhyunpark/zklite/pkg/app/core/transaction"
)

// Rejections carry the reason strings clients already match on.
var (
	ErrInvalidPair       = market.ErrPairNotFound
	ErrInvalidParams     = market.ErrInvalidParams
	ErrPairInactive      = errors.New("Pair isn't active")
	ErrInvalidPrice      = errors.New("Invalid price")
	ErrInvalidAmount     = errors.New("Invalid amount")
	ErrInvalidValidUntil = errors.New("Invalid validUntil")
	ErrInvalidRequest    = errors.New("Invalid request")
	ErrAmountTooSmall    = errors.New("Amount too small")
	ErrNotEnoughBalance  = errors.New("Not enough balance")
	ErrExceedAllowance   = errors.New("Exceed allowance")
	ErrNonceUsed         = transaction.ErrNonceUsed
	ErrInvalidSignature  = transaction.ErrInvalidSignature
	ErrUnauthorizedAdmin = errors.New("Unauthorized access")
	ErrUnauthorized      = errors.New("Unauthorized")
	ErrNotFilled         = errors.New("NotFilled")
	ErrSettlement        = errors.New("settlement failed")
)

// ErrorKind groups rejections for transports that need a status code.
type ErrorKind int

const (
	KindInternal  ErrorKind = iota
	KindInput               // malformed or unacceptable request
	KindAuth                // caller may not perform the action
	KindNotFilled           // fill-or-kill could not complete
)

func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrUnauthorizedAdmin),
		errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrNonceUsed):
		return KindAuth
	case errors.Is(err, ErrNotFilled):
		return KindNotFilled
	case errors.Is(err, ErrInvalidPair),
		errors.Is(err, ErrInvalidParams),
		errors.Is(err, ErrPairInactive),
		errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidValidUntil),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrAmountTooSmall),
		errors.Is(err, ErrNotEnoughBalance),
		errors.Is(err, ErrExceedAllowance):
		return KindInput
	default:
		return KindInternal
	}
}
