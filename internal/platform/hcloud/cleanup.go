package hcloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// CleanupError represents accumulated errors from cleanup operations.
type CleanupError struct {
	Errors []error
}

func (e *CleanupError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("cleanup encountered %d errors: %v", len(e.Errors), e.Errors)
}

func (e *CleanupError) Unwrap() error {
	if len(e.Errors) == 1 {
		return e.Errors[0]
	}
	return errors.Join(e.Errors...)
}

func (e *CleanupError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *CleanupError) HasErrors() bool {
	return len(e.Errors) > 0
}

// resource is a constraint for the Hetzner Cloud resources stackctl creates.
type resource interface {
	*hcloud.Firewall | *hcloud.Network | *hcloud.PlacementGroup | *hcloud.SSHKey
}

// resourceInfo extracts common fields from a resource for logging.
type resourceInfo struct {
	Name string
	ID   int64
}

func getResourceInfo[T resource](r T) resourceInfo {
	switch v := any(r).(type) {
	case *hcloud.Firewall:
		return resourceInfo{Name: v.Name, ID: v.ID}
	case *hcloud.Network:
		return resourceInfo{Name: v.Name, ID: v.ID}
	case *hcloud.PlacementGroup:
		return resourceInfo{Name: v.Name, ID: v.ID}
	case *hcloud.SSHKey:
		return resourceInfo{Name: v.Name, ID: v.ID}
	default:
		return resourceInfo{}
	}
}

// CleanupReport lists what CleanupByLabel deleted, per resource type.
type CleanupReport struct {
	Deleted map[string][]string
}

func (r *CleanupReport) add(resourceType, name string) {
	if r.Deleted == nil {
		r.Deleted = make(map[string][]string)
	}
	r.Deleted[resourceType] = append(r.Deleted[resourceType], name)
}

// Total returns the number of deleted resources.
func (r CleanupReport) Total() int {
	n := 0
	for _, names := range r.Deleted {
		n += len(names)
	}
	return n
}

// deleteResourcesByLabel is a generic helper for deleting resources by label selector.
// Returns an error if listing fails, or a combined error of all deletion failures.
func deleteResourcesByLabel[T resource](
	ctx context.Context,
	c *RealClient,
	report *CleanupReport,
	resourceType string,
	listFn func(context.Context) ([]T, error),
	deleteFn func(context.Context, T) (*hcloud.Response, error),
) error {
	log := logr.FromContextOrDiscard(ctx)

	if err := c.wait(ctx); err != nil {
		return err
	}
	resources, err := listFn(ctx)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", resourceType, err)
	}

	var deleteErrs []error
	for _, r := range resources {
		info := getResourceInfo(r)
		log.Info("Deleting resource", "type", resourceType, "name", info.Name, "id", info.ID)
		if err := c.wait(ctx); err != nil {
			return errors.Join(append(deleteErrs, err)...)
		}
		if _, err := deleteFn(ctx, r); err != nil && !IsNotFound(err) {
			log.Error(err, "Failed to delete resource", "type", resourceType, "name", info.Name)
			deleteErrs = append(deleteErrs, fmt.Errorf("%s %q: %w", resourceType, info.Name, err))
			continue
		}
		report.add(resourceType, info.Name)
	}

	return errors.Join(deleteErrs...)
}

// CleanupByLabel deletes all stackctl resource types matching the given
// label selector, e.g. labels.SelectorForCorrelation(id). It is the manual remediation path for runs whose rollback
// could not finish or whose ledger was lost. Every resource type is attempted
// even if some deletions fail; the failures are returned as a CleanupError.
func (c *RealClient) CleanupByLabel(ctx context.Context, selector string) (CleanupReport, error) {
	log := logr.FromContextOrDiscard(ctx)
	if selector == "" {
		return CleanupReport{}, errors.New("refusing to clean up without a label selector")
	}
	log.Info("Starting cleanup", "selector", selector)

	var report CleanupReport
	cleanupErrs := &CleanupError{}
	listOpts := hcloud.ListOpts{LabelSelector: selector}

	// Firewalls and placement groups first; networks last.
	cleanupErrs.Add(deleteResourcesByLabel(ctx, c, &report, TypeFirewall,
		func(ctx context.Context) ([]*hcloud.Firewall, error) {
			return c.client.Firewall.AllWithOpts(ctx, hcloud.FirewallListOpts{ListOpts: listOpts})
		},
		c.client.Firewall.Delete,
	))
	cleanupErrs.Add(deleteResourcesByLabel(ctx, c, &report, TypePlacementGroup,
		func(ctx context.Context) ([]*hcloud.PlacementGroup, error) {
			return c.client.PlacementGroup.AllWithOpts(ctx, hcloud.PlacementGroupListOpts{ListOpts: listOpts})
		},
		c.client.PlacementGroup.Delete,
	))
	cleanupErrs.Add(deleteResourcesByLabel(ctx, c, &report, TypeSSHKey,
		func(ctx context.Context) ([]*hcloud.SSHKey, error) {
			return c.client.SSHKey.AllWithOpts(ctx, hcloud.SSHKeyListOpts{ListOpts: listOpts})
		},
		c.client.SSHKey.Delete,
	))
	cleanupErrs.Add(deleteResourcesByLabel(ctx, c, &report, TypeNetwork,
		func(ctx context.Context) ([]*hcloud.Network, error) {
			return c.client.Network.AllWithOpts(ctx, hcloud.NetworkListOpts{ListOpts: listOpts})
		},
		c.client.Network.Delete,
	))

	if cleanupErrs.HasErrors() {
		log.Info("Cleanup completed with errors", "errors", len(cleanupErrs.Errors), "deleted", report.Total())
		return report, cleanupErrs
	}

	log.Info("Cleanup complete", "deleted", report.Total())
	return report, nil
}
