package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a rejection so callers can tell "retry later" apart from
// "request is invalid" and "business rule violated".
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidArgument
	KindProductNotFound
	KindProductInactive
	KindInsufficientStock
	KindPrescriptionRequired
	KindInvalidTransition
	KindLedgerInconsistency
	KindContention
	KindOrderNotFound
	KindDuplicateRequest
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindProductNotFound:
		return "PRODUCT_NOT_FOUND"
	case KindProductInactive:
		return "PRODUCT_INACTIVE"
	case KindInsufficientStock:
		return "INSUFFICIENT_STOCK"
	case KindPrescriptionRequired:
		return "PRESCRIPTION_REQUIRED"
	case KindInvalidTransition:
		return "INVALID_TRANSITION"
	case KindLedgerInconsistency:
		return "LEDGER_INCONSISTENCY"
	case KindContention:
		return "CONTENTION"
	case KindOrderNotFound:
		return "ORDER_NOT_FOUND"
	case KindDuplicateRequest:
		return "DUPLICATE_REQUEST"
	default:
		return "UNKNOWN"
	}
}

// ErrorClass groups kinds by what the caller should do about them.
type ErrorClass string

const (
	ClassRetryLater     ErrorClass = "retry_later"
	ClassInvalidRequest ErrorClass = "invalid_request"
	ClassBusinessRule   ErrorClass = "business_rule"
	ClassInternal       ErrorClass = "internal"
)

func (k ErrorKind) Class() ErrorClass {
	switch k {
	case KindContention:
		return ClassRetryLater
	case KindInvalidArgument, KindInvalidTransition, KindPrescriptionRequired,
		KindProductNotFound, KindOrderNotFound, KindDuplicateRequest:
		return ClassInvalidRequest
	case KindInsufficientStock, KindProductInactive:
		return ClassBusinessRule
	default:
		return ClassInternal
	}
}

// Retryable reports whether the same request may succeed if sent again unchanged.
func (k ErrorKind) Retryable() bool {
	return k == KindContention
}

// Error carries the structured detail of a rejected core operation.
type Error struct {
	Kind      ErrorKind
	ProductID string
	OrderID   string
	Requested int
	Available int
	From      OrderStatus
	To        OrderStatus
	Detail    string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.ReplaceAll(e.Kind.String(), "_", " ")))
	if e.ProductID != "" {
		fmt.Fprintf(&b, " product=%s", e.ProductID)
	}
	if e.OrderID != "" {
		fmt.Fprintf(&b, " order=%s", e.OrderID)
	}
	if e.Kind == KindInsufficientStock {
		fmt.Fprintf(&b, " requested=%d available=%d", e.Requested, e.Available)
	}
	if e.From != "" || e.To != "" {
		fmt.Fprintf(&b, " from=%s to=%s", e.From, e.To)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument}
	ErrProductNotFound      = &Error{Kind: KindProductNotFound}
	ErrProductInactive      = &Error{Kind: KindProductInactive}
	ErrInsufficientStock    = &Error{Kind: KindInsufficientStock}
	ErrPrescriptionRequired = &Error{Kind: KindPrescriptionRequired}
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrLedgerInconsistency  = &Error{Kind: KindLedgerInconsistency}
	ErrContention           = &Error{Kind: KindContention}
	ErrOrderNotFound        = &Error{Kind: KindOrderNotFound}
	ErrDuplicateRequest     = &Error{Kind: KindDuplicateRequest}
)

// KindOf extracts the kind of a core error, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func InvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Detail: fmt.Sprintf(format, args...)}
}

func ProductNotFound(productID string) *Error {
	return &Error{Kind: KindProductNotFound, ProductID: productID}
}

func ProductInactive(productID string) *Error {
	return &Error{Kind: KindProductInactive, ProductID: productID}
}

func InsufficientStock(productID string, requested, available int) *Error {
	return &Error{Kind: KindInsufficientStock, ProductID: productID, Requested: requested, Available: available}
}

func PrescriptionRequired(productID string) *Error {
	return &Error{Kind: KindPrescriptionRequired, ProductID: productID}
}

func InvalidTransition(orderID string, from, to OrderStatus) *Error {
	return &Error{Kind: KindInvalidTransition, OrderID: orderID, From: from, To: to}
}

func LedgerInconsistency(productID string, format string, args ...any) *Error {
	return &Error{Kind: KindLedgerInconsistency, ProductID: productID, Detail: fmt.Sprintf(format, args...)}
}

func Contention(err error) *Error {
	return &Error{Kind: KindContention, Err: err}
}

func OrderNotFound(orderID string) *Error {
	return &Error{Kind: KindOrderNotFound, OrderID: orderID}
}
