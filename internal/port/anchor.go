package port

import (
	"context"

	"github.com/rl1809/crop-exchange/internal/core/domain"
)

// Anchor records batch registration and ownership changes on an external
// ledger. Every call may fail; callers degrade to a pending proof.
type Anchor interface {
	RegisterBatch(ctx context.Context, batch domain.Batch) (string, error)
	TransferOwnership(ctx context.Context, batchID, newOwnerWallet string) (string, error)
}
