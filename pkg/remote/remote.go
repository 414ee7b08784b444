// Package remote defines the contract between the orchestration layer and a
// remote management API.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/imamik/stackctl/internal/ledger"
)

// ErrNotFound is wrapped by Client errors for resources that do not exist.
var ErrNotFound = errors.New("resource not found")

// ResourceSpec describes a resource to create.
type ResourceSpec struct {
	Type string `yaml:"type" json:"type"`
	Name string `yaml:"name" json:"name"`
	// IdempotencyKey identifies the request across retries. Clients use it to
	// return an existing resource instead of creating a duplicate.
	IdempotencyKey string            `yaml:"-" json:"idempotency_key,omitempty"`
	Labels         map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	Params         map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// Resource is a created remote resource.
type Resource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (r Resource) String() string {
	if r.Name != "" {
		return fmt.Sprintf("%s/%s (%s)", r.Type, r.ID, r.Name)
	}
	return r.Type + "/" + r.ID
}

// Status is the observed state of a resource.
type Status string

const (
	StatusReady    Status = "ready"
	StatusPending  Status = "pending"
	StatusNotFound Status = "not_found"
)

// Client is the consumed remote API. Errors are classified by the caller.
type Client interface {
	Create(ctx context.Context, spec ResourceSpec) (string, error)
	Get(ctx context.Context, resourceType, id string) (Status, error)
	Delete(ctx context.Context, resourceType, id string) error
}

// DeleteCompensator undoes ledger entries by deleting the resources they
// reference. A resource that is already gone counts as compensated.
type DeleteCompensator struct {
	Client Client
}

func (d DeleteCompensator) Compensate(ctx context.Context, c ledger.Compensation) error {
	switch c.Action {
	case ledger.ActionNone:
		return nil
	case ledger.ActionDelete:
		err := d.Client.Delete(ctx, c.ResourceType, c.ResourceID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unsupported compensation action %q", c.Action)
	}
}
