package hcloud

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/stackctl/internal/util/ptr"
	"github.com/imamik/stackctl/pkg/remote"
)

var defaultSourceIPs = []string{"0.0.0.0/0", "::/0"}

// ensureFirewall creates a firewall with inbound rules. Params:
//   - allow_tcp: comma-separated ports or ranges, e.g. "22,443,8000-8100"
//   - allow_udp: same for UDP
//   - allow_icmp: "true" to allow ICMP
//   - source_ips: comma-separated CIDRs (default any IPv4 and IPv6)
func (c *RealClient) ensureFirewall(ctx context.Context, spec remote.ResourceSpec) (int64, error) {
	return (&EnsureOperation[*hcloud.Firewall, hcloud.FirewallCreateOpts]{
		Name:         spec.Name,
		ResourceType: TypeFirewall,
		Labels:       spec.Labels,
		Get:          c.client.Firewall.GetByName,
		Create:       c.createFirewall,
		LabelsOf:     func(fw *hcloud.Firewall) map[string]string { return fw.Labels },
		IDOf:         func(fw *hcloud.Firewall) int64 { return fw.ID },
		CreateOptsMapper: func() (hcloud.FirewallCreateOpts, error) {
			rules, err := firewallRules(spec.Params)
			if err != nil {
				return hcloud.FirewallCreateOpts{}, err
			}
			return hcloud.FirewallCreateOpts{
				Name:   spec.Name,
				Rules:  rules,
				Labels: spec.Labels,
			}, nil
		},
	}).Execute(ctx, c)
}

func (c *RealClient) createFirewall(ctx context.Context, opts hcloud.FirewallCreateOpts) (*CreateResult[*hcloud.Firewall], *hcloud.Response, error) {
	res, resp, err := c.client.Firewall.Create(ctx, opts)
	if err != nil {
		return nil, resp, err
	}
	return &CreateResult[*hcloud.Firewall]{
		Resource: res.Firewall,
		Actions:  res.Actions,
	}, resp, nil
}

// firewallRules builds inbound rules from step params.
func firewallRules(params map[string]string) ([]hcloud.FirewallRule, error) {
	sources, err := parseSourceIPs(params["source_ips"])
	if err != nil {
		return nil, err
	}

	var rules []hcloud.FirewallRule
	for _, p := range []struct {
		param    string
		protocol hcloud.FirewallRuleProtocol
	}{
		{"allow_tcp", hcloud.FirewallRuleProtocolTCP},
		{"allow_udp", hcloud.FirewallRuleProtocolUDP},
	} {
		ports, err := parsePorts(params[p.param])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.param, err)
		}
		for _, port := range ports {
			rules = append(rules, hcloud.FirewallRule{
				Direction: hcloud.FirewallRuleDirectionIn,
				Protocol:  p.protocol,
				Port:      ptr.To(port),
				SourceIPs: sources,
			})
		}
	}

	if v := params["allow_icmp"]; v != "" {
		allow, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("allow_icmp: %w", err)
		}
		if allow {
			rules = append(rules, hcloud.FirewallRule{
				Direction: hcloud.FirewallRuleDirectionIn,
				Protocol:  hcloud.FirewallRuleProtocolICMP,
				SourceIPs: sources,
			})
		}
	}
	return rules, nil
}

func parseSourceIPs(raw string) ([]net.IPNet, error) {
	cidrs := defaultSourceIPs
	if raw != "" {
		cidrs = splitList(raw)
	}
	out := make([]net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("source_ips: invalid CIDR %q", c)
		}
		out = append(out, *n)
	}
	return out, nil
}

// parsePorts validates "22,443,8000-8100" style lists.
func parsePorts(raw string) ([]string, error) {
	var out []string
	for _, p := range splitList(raw) {
		lo, hi, isRange := strings.Cut(p, "-")
		if err := validPort(lo); err != nil {
			return nil, err
		}
		if isRange {
			if err := validPort(hi); err != nil {
				return nil, err
			}
			a, _ := strconv.Atoi(lo)
			b, _ := strconv.Atoi(hi)
			if a > b {
				return nil, fmt.Errorf("invalid port range %q", p)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func validPort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port %q", s)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
