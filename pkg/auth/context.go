package auth

import (
	"context"

	"github.com/dd0wney/roadnet/pkg/roadnet"
)

// contextKey is an unexported type for context keys to prevent collisions
type contextKey struct{}

// customerKey is the context key for the authenticated customer
var customerKey = contextKey{}

// WithCustomer returns a new context carrying the authenticated customer
func WithCustomer(ctx context.Context, c *roadnet.Customer) context.Context {
	return context.WithValue(ctx, customerKey, c)
}

// CustomerFromContext extracts the authenticated customer from the context.
// Returns the customer and true if found, or nil and false if not.
func CustomerFromContext(ctx context.Context) (*roadnet.Customer, bool) {
	if ctx == nil {
		return nil, false
	}
	c, ok := ctx.Value(customerKey).(*roadnet.Customer)
	return c, ok && c != nil
}
