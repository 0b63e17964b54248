// Package syncexec implements the Executor collaborator (spec.md §6):
// "accepts one submitted callable per table returning a target result
// set". Grounded on golang.org/x/sync/errgroup, already part of the
// teacher's dependency graph, which gives the single-auxiliary-worker
// shape (spec.md §5: "exactly one auxiliary worker per table") its join;
// cancellation reaches the task through the caller's context.
package syncexec

import (
	"context"
	"database/sql"

	"golang.org/x/sync/errgroup"
)

// Executor runs the target SELECT concurrently with the source SELECT
// run in the foreground (spec.md §4.4 "Parallel fill").
type Executor interface {
	// Submit runs fn on an auxiliary goroutine and returns a Future whose
	// Wait blocks until fn completes.
	Submit(ctx context.Context, fn func(ctx context.Context) (*sql.Rows, error)) Future
}

// Future is the single-shot promise a submitted task resolves into,
// modeling the Design Notes' "background task returning a cursor" as an
// owned handle the caller awaits once before entering the merge.
type Future interface {
	Wait() (*sql.Rows, error)
}

// Group is the default Executor, one errgroup.Group per table iteration.
type Group struct{}

var _ Executor = Group{}

type future struct {
	group *errgroup.Group
	rows  *sql.Rows
}

func (Group) Submit(ctx context.Context, fn func(ctx context.Context) (*sql.Rows, error)) Future {
	// fn runs under the caller's ctx, not an errgroup.WithContext one: that
	// derived context is cancelled as soon as Wait returns, and database/sql
	// closes a *sql.Rows whose query context is cancelled, which would close
	// the cursor before the merge reads it.
	g := new(errgroup.Group)
	f := &future{group: g}
	g.Go(func() error {
		rows, err := fn(ctx)
		f.rows = rows
		return err
	})
	return f
}

func (f *future) Wait() (*sql.Rows, error) {
	err := f.group.Wait()
	return f.rows, err
}
