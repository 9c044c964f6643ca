package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dermesser/taskbroker/transport"
)

// Dialer opens the connection for the i-th worker of a pool.
type Dialer func(i int) (transport.Conn, error)

// RunPool runs n workers sharing handler until ctx is cancelled. If one worker
// fails, the others are stopped and the first error is returned. Each worker's
// connection is closed when it stops.
func RunPool(ctx context.Context, n int, dial Dialer, handler Handler, opts ...Option) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		conn, err := dial(i)
		if err != nil {
			cancel()
			g.Wait()
			return fmt.Errorf("worker %d: %w", i, err)
		}
		g.Go(func() error {
			defer conn.Close()
			wopts := append([]Option{WithName(fmt.Sprintf("worker-%d", i))}, opts...)
			return New(conn, handler, wopts...).Run(ctx)
		})
	}
	return g.Wait()
}
