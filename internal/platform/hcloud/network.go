package hcloud

import (
	"context"
	"fmt"
	"net"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/stackctl/internal/config"
	"github.com/imamik/stackctl/pkg/remote"
)

const defaultNetworkRange = "10.0.0.0/16"

// ensureNetwork creates a network. Params:
//   - ip_range: network CIDR (default 10.0.0.0/16)
//   - subnet: optional cloud subnet CIDR inside ip_range
//   - network_zone: subnet zone (default derived from the client location)
func (c *RealClient) ensureNetwork(ctx context.Context, spec remote.ResourceSpec) (int64, error) {
	return (&EnsureOperation[*hcloud.Network, hcloud.NetworkCreateOpts]{
		Name:         spec.Name,
		ResourceType: TypeNetwork,
		Labels:       spec.Labels,
		Get:          c.client.Network.GetByName,
		Create:       simpleCreate(c.client.Network.Create),
		LabelsOf:     func(n *hcloud.Network) map[string]string { return n.Labels },
		IDOf:         func(n *hcloud.Network) int64 { return n.ID },
		CreateOptsMapper: func() (hcloud.NetworkCreateOpts, error) {
			return networkCreateOpts(spec, c.location)
		},
	}).Execute(ctx, c)
}

func networkCreateOpts(spec remote.ResourceSpec, location string) (hcloud.NetworkCreateOpts, error) {
	ipRange := spec.Params["ip_range"]
	if ipRange == "" {
		ipRange = defaultNetworkRange
	}
	_, ipNet, err := net.ParseCIDR(ipRange)
	if err != nil {
		return hcloud.NetworkCreateOpts{}, fmt.Errorf("invalid ip_range %q: %w", ipRange, err)
	}

	opts := hcloud.NetworkCreateOpts{
		Name:    spec.Name,
		IPRange: ipNet,
		Labels:  spec.Labels,
	}

	if subnet := spec.Params["subnet"]; subnet != "" {
		_, subNet, err := net.ParseCIDR(subnet)
		if err != nil {
			return hcloud.NetworkCreateOpts{}, fmt.Errorf("invalid subnet %q: %w", subnet, err)
		}
		if !ipNet.Contains(subNet.IP) {
			return hcloud.NetworkCreateOpts{}, fmt.Errorf("subnet %s is outside ip_range %s", subnet, ipRange)
		}
		zone := spec.Params["network_zone"]
		if zone == "" {
			zone = config.NetworkZoneFor(location)
		}
		opts.Subnets = []hcloud.NetworkSubnet{{
			Type:        hcloud.NetworkSubnetTypeCloud,
			IPRange:     subNet,
			NetworkZone: hcloud.NetworkZone(zone),
		}}
	}
	return opts, nil
}
