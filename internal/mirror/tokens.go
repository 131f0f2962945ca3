package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/drewfead/calendupe/internal/blob"
)

// syncTokenBlob names the blob holding the provider's sync token between
// runs.
const syncTokenBlob = "next_sync_token"

// TokenStore persists the sync token handed back by each reconciliation
// pass so the next pass can list incrementally.
type TokenStore struct {
	store  blob.Store
	bucket string
}

// NewTokenStore keeps the sync token in the given bucket.
func NewTokenStore(store blob.Store, bucket string) *TokenStore {
	return &TokenStore{store: store, bucket: bucket}
}

// Load returns the stored sync token, or "" when none has been stored yet.
func (t *TokenStore) Load(ctx context.Context) (string, error) {
	data, err := t.store.Get(ctx, t.bucket, syncTokenBlob)
	if errors.Is(err, blob.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("unable to load sync token: %w", err)
	}
	return string(data), nil
}

// Save stores the sync token for the next run.
func (t *TokenStore) Save(ctx context.Context, token string) error {
	if err := t.store.Put(ctx, t.bucket, syncTokenBlob, []byte(token)); err != nil {
		return fmt.Errorf("unable to save sync token: %w", err)
	}
	return nil
}
