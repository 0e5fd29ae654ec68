package transfer

import (
	"context"

	"github.com/spf13/cast"
	"github.com/voxbridge/voxbridge/pkg/dispatch"
)

// BuiltinKey is the platform key a transfer function declaration binds to.
const BuiltinKey = "transfer"

// Builtin adapts the coordinator to the function-dispatch contract, so the
// conversation model can request transfers as an ordinary tool call.
func (c *Coordinator) Builtin() dispatch.Builtin {
	return func(ctx context.Context, args map[string]any) (any, error) {
		req := Request{
			Number:    cast.ToString(args["number"]),
			Operation: Operation(cast.ToString(args["operation"])),
			CallerID:  cast.ToString(args["callerId"]),
		}
		// Failures surface as an ERROR result, never as an error: the
		// model decides whether to retry or apologize.
		return c.Execute(ctx, req), nil
	}
}
