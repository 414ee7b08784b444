package async

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task represents an asynchronous operation with a name and function.
type Task struct {
	Name string
	Func func(context.Context) error
}

// RunParallel executes tasks concurrently, at most limit at a time (no
// limit when limit <= 0), and waits for all of them. Errors from every
// failed task are joined, each prefixed with its task name.
//
// Example:
//
//	tasks := []Task{
//	    {Name: "network.yaml", Func: runNetwork},
//	    {Name: "firewall.yaml", Func: runFirewall},
//	}
//	if err := RunParallel(ctx, tasks, 2); err != nil {
//	    return err
//	}
func RunParallel(ctx context.Context, tasks []Task, limit int) error {
	if len(tasks) == 0 {
		return nil
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	var (
		mu   sync.Mutex
		errs = make([]error, len(tasks))
	)
	for i, task := range tasks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				errs[i] = fmt.Errorf("%s: %w", task.Name, err)
				mu.Unlock()
				return nil
			}
			if err := task.Func(ctx); err != nil {
				mu.Lock()
				errs[i] = fmt.Errorf("%s: %w", task.Name, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
