package resolver

import "context"

// Resolver computes a Result for a given Input.
//
// Implementations must not mutate the baseline; the caller commits the result.
type Resolver interface {
	Resolve(ctx context.Context, in Input) (Result, error)
}
