package store

import (
	"context"
	"errors"
	"fmt"
)

// RetryOnDuplicate runs fn until it returns something other than ErrDuplicateKey.
// fn must recompute any derived counters or names on every attempt. There is no
// attempt cap; only ctx ends the loop early.
func RetryOnDuplicate(ctx context.Context, fn func(attempt int) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		err := fn(attempt)
		if !errors.Is(err, ErrDuplicateKey) {
			return err
		}
	}
}
