package port

import "context"

type StockCache interface {
	// GetAvailable returns the cached available quantity, found=false on miss
	GetAvailable(ctx context.Context, productID string) (available int, found bool, err error)

	// SetAvailable stores available unless a newer stock version is already cached
	SetAvailable(ctx context.Context, productID string, available int, version int64) error

	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ClearIdempotency frees a key whose request failed so it can be retried
	ClearIdempotency(ctx context.Context, key string) error
}
