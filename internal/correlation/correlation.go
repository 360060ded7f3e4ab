// Package correlation generates per-request correlation identifiers and carries them
// through request contexts so that log lines and error responses can be matched.
package correlation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Header is the response header that echoes the correlation id.
const Header = "X-Request-ID"

// Generator creates UUIDv7 correlation ids. They sort by creation time and carry
// 74 random bits, so ids minted within the same clock tick do not collide.
type Generator struct{}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

type ctxKey struct{}

// WithID returns a copy of ctx carrying the correlation id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the correlation id stored in ctx, or "" when absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
