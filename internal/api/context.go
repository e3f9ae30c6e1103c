package api

import (
	"context"
	"errors"
)

// serviceContextKey is the context key for the resolved domain service.
type serviceContextKey struct{}

// ErrNoServiceInContext indicates no service was found in the context.
var ErrNoServiceInContext = errors.New("no service in context")

// WithService returns a new context with the service attached.
func WithService(ctx context.Context, s Service) context.Context {
	return context.WithValue(ctx, serviceContextKey{}, s)
}

// ServiceFromContext extracts the service from the context.
// Returns ErrNoServiceInContext if not present or nil.
func ServiceFromContext(ctx context.Context) (Service, error) {
	s, ok := ctx.Value(serviceContextKey{}).(Service)
	if !ok || s == nil {
		return nil, ErrNoServiceInContext
	}
	return s, nil
}

// MustServiceFromContext extracts the service or panics.
// Use only when middleware guarantees service presence.
func MustServiceFromContext(ctx context.Context) Service {
	s, err := ServiceFromContext(ctx)
	if err != nil {
		panic("service not in context: middleware misconfiguration")
	}
	return s
}
