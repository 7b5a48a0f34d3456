package async

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ForkJoin runs fa and fb concurrently and waits for both.
func ForkJoin[A, B any](ctx context.Context, fa func(context.Context) (A, error), fb func(context.Context) (B, error)) (A, B, error) {
	var (
		a A
		b B
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		a, err = fa(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		b, err = fb(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		var zeroA A
		var zeroB B
		return zeroA, zeroB, err
	}
	return a, b, nil
}

// ForkJoin3 is ForkJoin for three branches.
func ForkJoin3[A, B, C any](ctx context.Context, fa func(context.Context) (A, error), fb func(context.Context) (B, error), fc func(context.Context) (C, error)) (A, B, C, error) {
	var (
		a A
		b B
		c C
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		a, err = fa(gctx)
		return err
	})
	g.Go(func() (err error) {
		b, err = fb(gctx)
		return err
	})
	g.Go(func() (err error) {
		c, err = fc(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		var (
			zeroA A
			zeroB B
			zeroC C
		)
		return zeroA, zeroB, zeroC, err
	}
	return a, b, c, nil
}
