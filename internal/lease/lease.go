// Package lease keeps two monitor processes from driving the same session.
package lease

import (
	"context"
	"errors"
)

// ErrHeld is returned by Acquire when another owner holds the lease.
var ErrHeld = errors.New("lease: held by another owner")

// ErrNotHeld is returned by Refresh when this owner no longer holds the lease.
var ErrNotHeld = errors.New("lease: not held")

// Leaser claims session identities across processes.
type Leaser interface {
	Acquire(ctx context.Context, id string) error
	Refresh(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
}

// Local is the single-process Leaser: every claim succeeds.
type Local struct{}

func (Local) Acquire(context.Context, string) error { return nil }
func (Local) Refresh(context.Context, string) error { return nil }
func (Local) Release(context.Context, string) error { return nil }
