package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/gapura/pkg/registry"
)

// invoke runs the handler in a goroutine and waits for its result or the
// deadline, whichever comes first. On timeout the context is cancelled and
// the late result, if any, is discarded: the stored outcome never changes
// once the deadline fires.
func (g *Gateway) invoke(ctx context.Context, tool *registry.Tool, input map[string]interface{}) (map[string]interface{}, *ToolError) {
	timeout := g.defaultTimeout
	if tool.Spec.TimeoutMS > 0 {
		timeout = time.Duration(tool.Spec.TimeoutMS) * time.Millisecond
	}

	handlerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so the goroutine can exit even after the select gives up
	resultCh := make(chan map[string]interface{}, 1)
	errCh := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		output, err := tool.Spec.Handler(handlerCtx, input)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- output
	}()

	select {
	case output := <-resultCh:
		return output, nil
	case err := <-errCh:
		return nil, NewToolError(CodeHandlerError, "Tool handler failed", map[string]interface{}{
			"error": err.Error(),
		})
	case <-handlerCtx.Done():
		if ctx.Err() != nil {
			return nil, NewToolError(CodeHandlerError, "Invocation cancelled", map[string]interface{}{
				"error": ctx.Err().Error(),
			})
		}
		return nil, NewToolError(CodeTimeout, fmt.Sprintf("Tool '%s' timed out after %s", tool.Spec.Name, timeout), map[string]interface{}{
			"timeout_ms": int(timeout / time.Millisecond),
		})
	}
}
