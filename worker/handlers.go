package worker

import (
	"context"
	"time"
)

// Handler computes the reply payload for one request payload. A returned
// error is logged and answered with an empty reply.
type Handler func(ctx context.Context, request [][]byte) ([][]byte, error)

// Echo replies with the request itself.
func Echo(ctx context.Context, request [][]byte) ([][]byte, error) {
	return request, nil
}

// Reply answers every request with the same payload after waiting delay,
// simulating work.
func Reply(reply [][]byte, delay time.Duration) Handler {
	return func(ctx context.Context, request [][]byte) ([][]byte, error) {
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return reply, nil
	}
}
