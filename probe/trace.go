package probe

import (
	"context"

	"golang.org/x/net/trace"
)

// addTrace appends a formatted entry to the golang.org/x/net/trace.Trace
// bound to ctx, if any, mirroring consumer/service.go's use of per-request
// tracing. It degrades to a no-op when no trace is bound, so probe.Endpoint
// can call it unconditionally from hot paths.
func addTrace(ctx context.Context, format string, args ...interface{}) {
	if tr, ok := trace.FromContext(ctx); ok {
		tr.LazyPrintf(format, args...)
	}
}
