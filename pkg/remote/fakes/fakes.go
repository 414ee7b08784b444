// Package fakes provides an in-memory remote.Client with scripted failures.
package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/imamik/stackctl/pkg/remote"
)

// Client simulates a remote management API.
type Client struct {
	mu        sync.Mutex
	resources map[string]remote.ResourceSpec // keyed by type/id
	byKey     map[string]string              // idempotency key -> id
	nextID    int

	createErrs map[string][]error // per resource type, consumed in order
	deleteErrs map[string]error   // per resource id, persistent
	createHook func(ctx context.Context, spec remote.ResourceSpec) error

	creates map[string]int
	deleted []string
}

// NewClient returns an empty fake.
func NewClient() *Client {
	return &Client{
		resources:  make(map[string]remote.ResourceSpec),
		byKey:      make(map[string]string),
		nextID:     1,
		createErrs: make(map[string][]error),
		deleteErrs: make(map[string]error),
		creates:    make(map[string]int),
	}
}

// FailCreate makes the next len(errs) creates of resourceType return errs in
// order. A nil entry lets that call succeed.
func (c *Client) FailCreate(resourceType string, errs ...error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createErrs[resourceType] = append(c.createErrs[resourceType], errs...)
	return c
}

// FailDelete makes every delete of id return err.
func (c *Client) FailDelete(id string, err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteErrs[id] = err
	return c
}

// OnCreate installs a hook run before every create. A non-nil error from the
// hook is returned by Create.
func (c *Client) OnCreate(fn func(ctx context.Context, spec remote.ResourceSpec) error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createHook = fn
	return c
}

func (c *Client) Create(ctx context.Context, spec remote.ResourceSpec) (string, error) {
	c.mu.Lock()
	c.creates[spec.Type]++
	hook := c.createHook
	var scripted error
	if q := c.createErrs[spec.Type]; len(q) > 0 {
		scripted = q[0]
		c.createErrs[spec.Type] = q[1:]
	}
	c.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, spec); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if scripted != nil {
		return "", scripted
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if spec.IdempotencyKey != "" {
		if id, ok := c.byKey[spec.IdempotencyKey]; ok {
			return id, nil
		}
	}
	id := fmt.Sprintf("%s-%d", spec.Type, c.nextID)
	c.nextID++
	c.resources[spec.Type+"/"+id] = spec
	if spec.IdempotencyKey != "" {
		c.byKey[spec.IdempotencyKey] = id
	}
	return id, nil
}

func (c *Client) Get(ctx context.Context, resourceType, id string) (remote.Status, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.resources[resourceType+"/"+id]; ok {
		return remote.StatusReady, nil
	}
	return remote.StatusNotFound, nil
}

func (c *Client) Delete(ctx context.Context, resourceType, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, id)
	if err := c.deleteErrs[id]; err != nil {
		return err
	}
	key := resourceType + "/" + id
	spec, ok := c.resources[key]
	if !ok {
		return fmt.Errorf("delete %s: %w", key, remote.ErrNotFound)
	}
	delete(c.resources, key)
	if spec.IdempotencyKey != "" {
		delete(c.byKey, spec.IdempotencyKey)
	}
	return nil
}

// CreateCalls returns how often Create was called for resourceType.
func (c *Client) CreateCalls(resourceType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates[resourceType]
}

// Deleted returns the ids passed to Delete, in call order.
func (c *Client) Deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

// Exists reports whether the resource is currently present.
func (c *Client) Exists(resourceType, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.resources[resourceType+"/"+id]
	return ok
}

// Count returns the number of live resources.
func (c *Client) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resources)
}

// Spec returns the spec a live resource was created with.
func (c *Client) Spec(resourceType, id string) (remote.ResourceSpec, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	spec, ok := c.resources[resourceType+"/"+id]
	return spec, ok
}
