package hcloud

import (
	"context"
	"fmt"
	"reflect"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/stackctl/internal/util/labels"
	"github.com/imamik/stackctl/internal/util/retry"
	"github.com/imamik/stackctl/pkg/remote"
)

// CreateResult wraps the result of a resource creation operation.
// It handles both single and multiple actions that may need to be awaited.
type CreateResult[T any] struct {
	Resource T
	Action   *hcloud.Action
	Actions  []*hcloud.Action
}

// DeleteOperation encapsulates deletion by id for any hcloud resource.
//
// Usage example:
//
//	return (&DeleteOperation[*hcloud.Firewall]{
//	    ID:           id,
//	    ResourceType: "firewall",
//	    Get:          c.client.Firewall.GetByID,
//	    Delete:       c.client.Firewall.Delete,
//	}).Execute(ctx, c)
type DeleteOperation[T any] struct {
	ID           int64
	ResourceType string

	// Get retrieves the resource by id
	Get func(ctx context.Context, id int64) (T, *hcloud.Response, error)

	// Delete removes the resource
	Delete func(ctx context.Context, resource T) (*hcloud.Response, error)
}

// Execute deletes the resource with a single attempt; rollback records a
// failure for manual cleanup instead of retrying. A missing resource is
// reported as remote.ErrNotFound so callers can treat it as already deleted.
func (op *DeleteOperation[T]) Execute(ctx context.Context, client *RealClient) error {
	ctx, cancel := context.WithTimeout(ctx, client.deleteTimeout)
	defer cancel()

	if err := client.wait(ctx); err != nil {
		return retry.Permanent(err)
	}
	resource, _, err := op.Get(ctx, op.ID)
	if err != nil {
		return classified(fmt.Errorf("failed to get %s %d: %w", op.ResourceType, op.ID, err))
	}
	if reflect.ValueOf(resource).IsNil() {
		return retry.Permanent(fmt.Errorf("%s %d: %w", op.ResourceType, op.ID, remote.ErrNotFound))
	}

	if err := client.wait(ctx); err != nil {
		return retry.Permanent(err)
	}
	if _, err := op.Delete(ctx, resource); err != nil {
		if IsNotFound(err) {
			return retry.Permanent(fmt.Errorf("%s %d: %w", op.ResourceType, op.ID, remote.ErrNotFound))
		}
		return classified(fmt.Errorf("failed to delete %s %d: %w", op.ResourceType, op.ID, err))
	}
	return nil
}

// classified marks err permanent when Classify says it is.
func classified(err error) error {
	if Classify(err) == retry.PermanentFailure {
		return retry.Permanent(err)
	}
	return err
}

// EnsureOperation encapsulates get-or-create logic keyed by resource name.
//
// A resource with the requested name that was created by the same workflow
// step (same correlation and step labels) is returned as is, which makes
// retried creates idempotent. A resource with that name owned by anything
// else is a permanent conflict.
type EnsureOperation[T any, CreateOpts any] struct {
	Name         string
	ResourceType string
	// Labels are the labels the resource is created with.
	Labels map[string]string

	// Get retrieves the resource by name
	Get func(ctx context.Context, name string) (T, *hcloud.Response, error)

	// Create creates the resource with the given options
	Create func(ctx context.Context, opts CreateOpts) (*CreateResult[T], *hcloud.Response, error)

	// LabelsOf returns the labels of an existing resource
	LabelsOf func(resource T) map[string]string

	// IDOf returns the id of a resource
	IDOf func(resource T) int64

	// CreateOptsMapper maps input parameters to create options
	CreateOptsMapper func() (CreateOpts, error)
}

// Execute returns the id of the existing or newly created resource.
func (op *EnsureOperation[T, CreateOpts]) Execute(ctx context.Context, client *RealClient) (int64, error) {
	if err := client.wait(ctx); err != nil {
		return 0, err
	}
	resource, _, err := op.Get(ctx, op.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to get %s %q: %w", op.ResourceType, op.Name, err)
	}

	if !reflect.ValueOf(resource).IsNil() {
		if !sameOwner(op.LabelsOf(resource), op.Labels) {
			return 0, retry.Permanent(fmt.Errorf("%s %q already exists and belongs to another workflow run", op.ResourceType, op.Name))
		}
		return op.IDOf(resource), nil
	}

	createOpts, err := op.CreateOptsMapper()
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("invalid %s parameters: %w", op.ResourceType, err))
	}
	if err := client.wait(ctx); err != nil {
		return 0, err
	}
	result, _, err := op.Create(ctx, createOpts)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s %q: %w", op.ResourceType, op.Name, err)
	}

	if err := waitForActionResult(ctx, client.client, result); err != nil {
		return 0, fmt.Errorf("failed to wait for %s creation: %w", op.ResourceType, err)
	}

	return op.IDOf(result.Resource), nil
}

// sameOwner reports whether an existing resource carries the correlation and
// step labels we would have given it.
func sameOwner(existing, want map[string]string) bool {
	for _, k := range []string{labels.KeyCorrelation, labels.KeyStep} {
		if want[k] == "" || existing[k] != want[k] {
			return false
		}
	}
	return true
}

// waitForActionResult waits for actions from a CreateResult.
// Handles both singular Action and plural Actions fields.
func waitForActionResult[T any](ctx context.Context, client *hcloud.Client, result *CreateResult[T]) error {
	if result.Action != nil {
		return client.Action.WaitFor(ctx, result.Action)
	}
	if len(result.Actions) > 0 {
		return client.Action.WaitFor(ctx, result.Actions...)
	}
	return nil
}

// simpleCreate wraps create functions returning the resource directly.
// Use for: Network, SSHKey (return Resource, Response, error)
func simpleCreate[T any, Opts any](
	createFn func(context.Context, Opts) (T, *hcloud.Response, error),
) func(context.Context, Opts) (*CreateResult[T], *hcloud.Response, error) {
	return func(ctx context.Context, opts Opts) (*CreateResult[T], *hcloud.Response, error) {
		resource, resp, err := createFn(ctx, opts)
		if err != nil {
			return nil, resp, err
		}
		return &CreateResult[T]{Resource: resource}, resp, nil
	}
}
