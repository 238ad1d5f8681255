package domain

import (
	"context"
)

// Provider defines the interface every adapter implements. One adapter wraps
// exactly one upstream provider; the router never talks to an upstream except
// through this interface.
type Provider interface {
	Name() string

	// Complete issues one request and normalizes the reply. Implementations
	// must honor ctx cancellation and deadlines; the router applies its
	// per-tier timeout through ctx.
	Complete(ctx context.Context, req *CompletionRequest) (*ProviderResult, error)
}
