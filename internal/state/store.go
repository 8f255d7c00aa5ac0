package state

import "context"

// Store is the small durable key-value surface the bot needs locally: the
// position journal and the operator audit trail live here.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
