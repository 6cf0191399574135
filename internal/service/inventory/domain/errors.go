// internal/service/inventory/domain/errors.go
package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// 错误码，对外以 JSON 的 code 字段返回
const (
	CodeOutOfStock             = "OUT_OF_STOCK"
	CodeStoreMismatch          = "STORE_MISMATCH"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeReservationNotFound    = "RESERVATION_NOT_FOUND"
	CodeAlreadyTerminal        = "ALREADY_TERMINAL"
	CodeOptionNotFound         = "OPTION_NOT_FOUND"
	CodePolicyNotFound         = "POLICY_NOT_FOUND"
	CodeIdempotencyConflict    = "IDEMPOTENCY_CONFLICT"
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeProductNotFound        = "PRODUCT_NOT_FOUND"
	CodeStoreNotFound          = "STORE_NOT_FOUND"
	CodeInternal               = "INTERNAL"
)

var (
	ErrOutOfStock             = errors.New("insufficient stock")
	ErrStoreMismatch          = errors.New("option does not belong to store")
	ErrConcurrentModification = errors.New("concurrent modification, retries exhausted")
	ErrReservationNotFound    = errors.New("reservation not found")
	ErrAlreadyTerminal        = errors.New("reservation already in terminal state")
	ErrOptionNotFound         = errors.New("option not found")
	ErrPolicyNotFound         = errors.New("delivery policy not found")
	ErrIdempotencyConflict    = errors.New("reservation id reused with different items")
	ErrInvalidQuantity        = errors.New("quantity must be positive")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrProductNotFound        = errors.New("product not found")
	ErrStoreNotFound          = errors.New("store not found")

	// ErrReservationExists 仅在仓储层使用：主键冲突
	ErrReservationExists = errors.New("reservation already exists")
	// ErrVersionConflict 仅在仓储层使用：乐观锁版本不匹配，由 StockLedger 重试
	ErrVersionConflict = errors.New("stock version conflict")
)

// OptionError 指明是哪个规格值导致了批次失败
type OptionError struct {
	Err       error
	OptionID  string
	Requested int64
	Available int64
}

func (e *OptionError) Error() string {
	if errors.Is(e.Err, ErrOutOfStock) {
		return fmt.Sprintf("%v: option %s requested %d, available %d", e.Err, e.OptionID, e.Requested, e.Available)
	}
	return fmt.Sprintf("%v: option %s", e.Err, e.OptionID)
}

func (e *OptionError) Unwrap() error { return e.Err }

// NewOptionError 构造一个带规格值信息的错误
func NewOptionError(sentinel error, optionID string, requested, available int64) error {
	return &OptionError{Err: sentinel, OptionID: optionID, Requested: requested, Available: available}
}

// OptionIDOf 取出错误链上的规格值 ID
func OptionIDOf(err error) string {
	var oe *OptionError
	if errors.As(err, &oe) {
		return oe.OptionID
	}
	return ""
}

// Code 把错误映射为对外错误码
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOutOfStock):
		return CodeOutOfStock
	case errors.Is(err, ErrStoreMismatch):
		return CodeStoreMismatch
	case errors.Is(err, ErrConcurrentModification):
		return CodeConcurrentModification
	case errors.Is(err, ErrReservationNotFound):
		return CodeReservationNotFound
	case errors.Is(err, ErrAlreadyTerminal):
		return CodeAlreadyTerminal
	case errors.Is(err, ErrOptionNotFound):
		return CodeOptionNotFound
	case errors.Is(err, ErrPolicyNotFound):
		return CodePolicyNotFound
	case errors.Is(err, ErrIdempotencyConflict):
		return CodeIdempotencyConflict
	case errors.Is(err, ErrProductNotFound):
		return CodeProductNotFound
	case errors.Is(err, ErrStoreNotFound):
		return CodeStoreNotFound
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}
