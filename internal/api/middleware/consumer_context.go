package middleware

import (
	"context"
	"time"
)

// consumerContextKey keys the authenticated consumer in the request
// context. A struct type prevents collisions with other packages.
type consumerContextKey struct{}

// ConsumerContext identifies the authenticated API consumer. The
// authentication middleware attaches it after a successful key check.
type ConsumerContext struct {
	// Owner is the account the API key belongs to.
	Owner string

	// Name is the human-readable key label.
	Name string

	// KeyID is the authenticated key's ID, for audit logging.
	KeyID string

	// AuthTime is when authentication occurred.
	AuthTime time.Time
}

// GetConsumerContext extracts the consumer from the request context.
// The second return is false for unauthenticated requests.
func GetConsumerContext(ctx context.Context) (ConsumerContext, bool) {
	consumer, ok := ctx.Value(consumerContextKey{}).(ConsumerContext)

	return consumer, ok
}

// SetConsumerContext attaches a consumer identity to the context.
func SetConsumerContext(ctx context.Context, consumer ConsumerContext) context.Context {
	return context.WithValue(ctx, consumerContextKey{}, consumer)
}
