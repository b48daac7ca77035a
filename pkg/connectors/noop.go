package connectors

import (
	"context"
	"time"
)

// noopHandler echoes its message back, used by smoke tests and as the
// minimal example of the handler contract.
func noopHandler(now func() time.Time) func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return func(_ context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		message := stringField(input, "message")
		count := 1
		if n, ok := numberField(input, "count"); ok && n > 0 {
			count = n
		}

		echo := make([]interface{}, count)
		for i := range echo {
			echo[i] = message
		}

		return map[string]interface{}{
			"echo": echo,
			"meta": map[string]interface{}{
				"source":     "noop",
				"applied_at": now().UTC().Format(time.RFC3339),
			},
		}, nil
	}
}
