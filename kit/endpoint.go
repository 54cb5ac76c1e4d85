// Package kit provides the transport-agnostic endpoint plumbing shared by
// margin's HTTP handlers and MCP tools. An operation is written once as an
// Endpoint and registered on both transports.
package kit

import "context"

// Endpoint is a single unit of work: decode happens at the transport edge,
// the endpoint receives the typed request and returns the typed response.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middleware so the first argument is the outermost wrapper.
func Chain(mw ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
}
