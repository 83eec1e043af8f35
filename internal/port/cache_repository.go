package port

import (
	"context"

	"github.com/shopspring/decimal"
)

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ClearIdempotency removes the key so a failed request can be retried
	ClearIdempotency(ctx context.Context, key string) error

	// SetAvailable overwrites the cached availability of a batch
	SetAvailable(ctx context.Context, batchID string, available decimal.Decimal) error

	// LowerAvailable records a committed decrement, never raising the cached value
	LowerAvailable(ctx context.Context, batchID string, available decimal.Decimal) (bool, error)

	// GetAvailable returns ok=false on a cache miss
	GetAvailable(ctx context.Context, batchID string) (decimal.Decimal, bool, error)
}
