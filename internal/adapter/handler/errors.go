package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/crop-exchange/internal/core/domain"
)

type errorKind struct {
	err      error
	name     string
	httpCode int
	grpcCode codes.Code
}

var errorKinds = []errorKind{
	{domain.ErrNotFound, "NOT_FOUND", http.StatusNotFound, codes.NotFound},
	{domain.ErrUnauthorized, "UNAUTHORIZED", http.StatusForbidden, codes.PermissionDenied},
	{domain.ErrInvalidTransition, "INVALID_TRANSITION", http.StatusConflict, codes.FailedPrecondition},
	{domain.ErrInsufficientInventory, "INSUFFICIENT_INVENTORY", http.StatusConflict, codes.ResourceExhausted},
	{domain.ErrBatchNotSellable, "BATCH_NOT_SELLABLE", http.StatusConflict, codes.FailedPrecondition},
	{domain.ErrInvalidRoleTransition, "INVALID_ROLE_TRANSITION", http.StatusUnprocessableEntity, codes.FailedPrecondition},
	{domain.ErrAlreadyPaid, "ALREADY_PAID", http.StatusConflict, codes.AlreadyExists},
	{domain.ErrDuplicateRequest, "DUPLICATE_REQUEST", http.StatusConflict, codes.AlreadyExists},
	{domain.ErrConflict, "CONFLICT", http.StatusConflict, codes.Aborted},
	{domain.ErrInvalidArgument, "INVALID_ARGUMENT", http.StatusBadRequest, codes.InvalidArgument},
	{domain.ErrExternalServiceDegraded, "EXTERNAL_SERVICE_DEGRADED", http.StatusServiceUnavailable, codes.Unavailable},
}

var internalKind = errorKind{name: "INTERNAL", httpCode: http.StatusInternalServerError, grpcCode: codes.Internal}

func classify(err error) errorKind {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k
		}
	}
	return internalKind
}
