package compiler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Warm compiles the given requests concurrently so later lookups hit the
// cache. It fails fast: the first compilation error cancels the remaining
// work and is returned.
func (c *Compiler) Warm(ctx context.Context, reqs ...Request) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, req := range reqs {
		req := req
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := c.Compile(req)
			return err
		})
	}
	return eg.Wait()
}
