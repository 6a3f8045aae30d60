package submissions

import (
	"context"
	"time"

	"deepreef/internal/logging"
)

const rollbackTimeout = 30 * time.Second

type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// rollback collects the undo steps of a create in the order the steps ran.
type rollback struct {
	steps []compensation
}

func (r *rollback) add(name string, undo func(ctx context.Context) error) {
	r.steps = append(r.steps, compensation{name: name, undo: undo})
}

// run undoes every step, newest first, and keeps going past failures. It
// detaches from ctx so a cancelled request still gets cleaned up.
func (r *rollback) run(ctx context.Context) (failed int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	for i := len(r.steps) - 1; i >= 0; i-- {
		step := r.steps[i]
		if err := step.undo(ctx); err != nil {
			failed++
			logging.Errorf("rollback %s failed: %v", step.name, err)
		}
	}
	return failed
}
