package domain

import "context"

// RawOutput is the complete captured output of one transport operation.
type RawOutput struct {
	Stdout string
	Stderr string
}

// Transport performs one blocking request/response exchange with the
// external messaging process. Implementations carry no protocol knowledge
// and are not safe for overlapping use; callers serialize access.
//
// A deadline on ctx is the per-call timeout. It is reported as a wrapped
// ctx.Err() (errors.Is(err, context.DeadlineExceeded)), not as the
// implementation's own timeout error, which is reserved for the
// implementation's configured limit and is safe to retry.
type Transport interface {
	Invoke(ctx context.Context, op string, args ...string) (*RawOutput, error)
}
