// Package accounting implements the accounting hook described in
// SPEC_FULL.md §6.3: when a request inside a virtual-lab project exceeds
// its rate limit, the service switches to an accounting-enabled session
// instead of rejecting the request outright (spec.md §4.6). Enforcing
// billing policy beyond calling this hook is out of scope (§1 Non-goals);
// this package only defines the call site and a no-op implementation.
package accounting

import "context"

// Session represents one accounting-tracked unit of work (one chat turn,
// one tool call) billed against a project's budget.
type Session interface {
	// Start is called once the rate limiter has switched a request onto
	// the accounting path. Its result is not interpreted by the caller;
	// accounting policy (budget checks, overage handling) lives entirely
	// on the other side of this interface.
	Start(ctx context.Context, userSub, vlabID, projectID, route string) error

	// End closes an accounted unit of work. Nothing in this service calls
	// it: admit calls Start when it switches a request onto the accounting
	// path, and no handler calls End when that request's work completes.
	End(ctx context.Context, userSub, vlabID, projectID, route string) error
}

// NoopSession is the default Session: every call succeeds without
// recording anything, for deployments that run without an accounting
// backend.
type NoopSession struct{}

func (NoopSession) Start(context.Context, string, string, string, string) error { return nil }
func (NoopSession) End(context.Context, string, string, string, string) error   { return nil }
