package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrInvalidTransition       = errors.New("invalid transition")
	ErrInsufficientInventory   = errors.New("insufficient inventory")
	ErrBatchNotSellable        = errors.New("batch not sellable")
	ErrInvalidRoleTransition   = errors.New("invalid role transition")
	ErrExternalServiceDegraded = errors.New("external service degraded")
	ErrAlreadyPaid             = errors.New("order already paid")
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrDuplicateRequest        = errors.New("duplicate request")
	ErrConflict                = errors.New("conflict")
)

const pendingProofPrefix = "PENDING_RETRY_"

// PendingProof is the placeholder stored instead of an anchor proof when the
// anchor could not be reached.
func PendingProof(at time.Time) string {
	return fmt.Sprintf("%s%d", pendingProofPrefix, at.UnixMilli())
}

func IsPendingProof(proof string) bool {
	return strings.HasPrefix(proof, pendingProofPrefix)
}

// SplitProof links a derived batch to its source until it is anchored itself.
func SplitProof(sourceBatchID string, at time.Time) string {
	return fmt.Sprintf("SPLIT-FROM-%s-%d", sourceBatchID, at.UnixMilli())
}
