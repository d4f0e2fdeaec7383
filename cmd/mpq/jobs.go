package main

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/mpq"
)

// forEach calls fn for every name with at most jobs calls in flight and
// returns the results in input order. No new calls start once ctx is done.
func forEach[T any](ctx context.Context, names []string, jobs int, fn func(string) T) ([]T, error) {
	out := make([]T, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = fn(name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// entryNames returns the name of every entry. Real names are already
// recorded and placeholders are parsed, so looking these names up again
// does not modify the archive and may run concurrently.
func entryNames(entries iter.Seq[mpq.Entry]) []string {
	var names []string
	for e := range entries {
		names = append(names, e.Name)
	}
	return names
}
