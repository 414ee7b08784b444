package hcloud

import (
	"context"
	"fmt"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/stackctl/pkg/remote"
)

// ensurePlacementGroup creates a placement group. Params:
//   - type: placement group type (default spread)
func (c *RealClient) ensurePlacementGroup(ctx context.Context, spec remote.ResourceSpec) (int64, error) {
	return (&EnsureOperation[*hcloud.PlacementGroup, hcloud.PlacementGroupCreateOpts]{
		Name:         spec.Name,
		ResourceType: TypePlacementGroup,
		Labels:       spec.Labels,
		Get:          c.client.PlacementGroup.GetByName,
		Create:       c.createPlacementGroup,
		LabelsOf:     func(pg *hcloud.PlacementGroup) map[string]string { return pg.Labels },
		IDOf:         func(pg *hcloud.PlacementGroup) int64 { return pg.ID },
		CreateOptsMapper: func() (hcloud.PlacementGroupCreateOpts, error) {
			pgType := hcloud.PlacementGroupTypeSpread
			if t := spec.Params["type"]; t != "" && t != string(pgType) {
				return hcloud.PlacementGroupCreateOpts{}, fmt.Errorf("unsupported placement group type %q", t)
			}
			return hcloud.PlacementGroupCreateOpts{
				Name:   spec.Name,
				Type:   pgType,
				Labels: spec.Labels,
			}, nil
		},
	}).Execute(ctx, c)
}

func (c *RealClient) createPlacementGroup(ctx context.Context, opts hcloud.PlacementGroupCreateOpts) (*CreateResult[*hcloud.PlacementGroup], *hcloud.Response, error) {
	res, resp, err := c.client.PlacementGroup.Create(ctx, opts)
	if err != nil {
		return nil, resp, err
	}
	return &CreateResult[*hcloud.PlacementGroup]{Resource: res.PlacementGroup, Action: res.Action}, resp, nil
}
