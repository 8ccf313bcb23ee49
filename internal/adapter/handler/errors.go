package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
)

func asDomainError(err error) (*domain.Error, bool) {
	var e *domain.Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// httpStatus maps an error kind to the HTTP status returned to clients.
func httpStatus(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindInvalidTransition, domain.KindPrescriptionRequired:
		return http.StatusUnprocessableEntity
	case domain.KindProductNotFound, domain.KindOrderNotFound:
		return http.StatusNotFound
	case domain.KindInsufficientStock, domain.KindProductInactive, domain.KindDuplicateRequest:
		return http.StatusConflict
	case domain.KindContention:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(err error) codes.Code {
	switch domain.KindOf(err) {
	case domain.KindInvalidArgument:
		return codes.InvalidArgument
	case domain.KindInvalidTransition, domain.KindPrescriptionRequired,
		domain.KindInsufficientStock, domain.KindProductInactive:
		return codes.FailedPrecondition
	case domain.KindProductNotFound, domain.KindOrderNotFound:
		return codes.NotFound
	case domain.KindContention:
		return codes.Aborted
	case domain.KindDuplicateRequest:
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}

// grpcError converts a core error into a status error. The kind travels in the
// message prefix so clients can branch on it.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(grpcCode(err), domain.KindOf(err).String()+": "+publicMessage(err))
}
