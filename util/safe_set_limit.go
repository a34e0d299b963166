package util

import "golang.org/x/sync/errgroup"

// SafeSetLimit sets the concurrency limit of g, treating zero as a
// programming error since errgroup panics on it without a useful message.
func SafeSetLimit(g *errgroup.Group, limit int) {
	if limit == 0 {
		panic("limit cannot be 0")
	}

	g.SetLimit(limit)
}
