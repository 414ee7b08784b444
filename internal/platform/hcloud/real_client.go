package hcloud

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"golang.org/x/time/rate"

	"github.com/imamik/stackctl/internal/util/retry"
	"github.com/imamik/stackctl/pkg/remote"
)

// Supported resource types.
const (
	TypeNetwork        = "network"
	TypeFirewall       = "firewall"
	TypePlacementGroup = "placement_group"
	TypeSSHKey         = "ssh_key"
)

// The Hetzner Cloud API allows 3600 requests per hour per project.
const (
	DefaultRateLimit  = rate.Limit(1)
	DefaultRateBurst  = 10
	DefaultLocation   = "nbg1"
	defaultDeleteWait = 5 * time.Minute
)

// RealClient implements remote.Client using the Hetzner Cloud API.
type RealClient struct {
	client        *hcloud.Client
	limiter       *rate.Limiter
	location      string
	deleteTimeout time.Duration
	endpoint      string
}

var _ remote.Client = (*RealClient)(nil)

// ClientOption configures a RealClient.
type ClientOption func(*RealClient)

// WithEndpoint points the client at a different API endpoint (useful for
// testing).
func WithEndpoint(endpoint string) ClientOption {
	return func(c *RealClient) {
		c.endpoint = endpoint
	}
}

// WithRateLimit sets the client-side request rate.
func WithRateLimit(limit rate.Limit, burst int) ClientOption {
	return func(c *RealClient) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithLocation sets the location used to derive network zones.
func WithLocation(location string) ClientOption {
	return func(c *RealClient) {
		if location != "" {
			c.location = location
		}
	}
}

// WithDeleteTimeout bounds a single delete.
func WithDeleteTimeout(d time.Duration) ClientOption {
	return func(c *RealClient) {
		c.deleteTimeout = d
	}
}

// NewRealClient creates a new RealClient with optional configuration.
func NewRealClient(token string, opts ...ClientOption) *RealClient {
	c := &RealClient{
		limiter:       rate.NewLimiter(DefaultRateLimit, DefaultRateBurst),
		location:      DefaultLocation,
		deleteTimeout: defaultDeleteWait,
	}
	for _, opt := range opts {
		opt(c)
	}

	hcloudOpts := []hcloud.ClientOption{
		hcloud.WithToken(token),
		hcloud.WithApplication("stackctl", ""),
		// Retries belong to the caller's retry.Policy; each request is one attempt.
		hcloud.WithRetryOpts(hcloud.RetryOpts{MaxRetries: 0}),
	}
	if c.endpoint != "" {
		hcloudOpts = append(hcloudOpts, hcloud.WithEndpoint(c.endpoint))
	}
	c.client = hcloud.NewClient(hcloudOpts...)
	return c
}

// wait blocks until the rate limiter admits one request.
func (c *RealClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// Create creates the resource described by spec, or returns the id of the
// resource an earlier attempt of the same step already created.
func (c *RealClient) Create(ctx context.Context, spec remote.ResourceSpec) (string, error) {
	var (
		id  int64
		err error
	)
	switch spec.Type {
	case TypeNetwork:
		id, err = c.ensureNetwork(ctx, spec)
	case TypeFirewall:
		id, err = c.ensureFirewall(ctx, spec)
	case TypePlacementGroup:
		id, err = c.ensurePlacementGroup(ctx, spec)
	case TypeSSHKey:
		id, err = c.ensureSSHKey(ctx, spec)
	default:
		return "", retry.Permanent(fmt.Errorf("unsupported resource type %q", spec.Type))
	}
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

// Get reports whether the resource exists.
func (c *RealClient) Get(ctx context.Context, resourceType, id string) (remote.Status, error) {
	n, err := parseID(id)
	if err != nil {
		return "", err
	}
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	var found bool
	switch resourceType {
	case TypeNetwork:
		r, _, gerr := c.client.Network.GetByID(ctx, n)
		found, err = r != nil, gerr
	case TypeFirewall:
		r, _, gerr := c.client.Firewall.GetByID(ctx, n)
		found, err = r != nil, gerr
	case TypePlacementGroup:
		r, _, gerr := c.client.PlacementGroup.GetByID(ctx, n)
		found, err = r != nil, gerr
	case TypeSSHKey:
		r, _, gerr := c.client.SSHKey.GetByID(ctx, n)
		found, err = r != nil, gerr
	default:
		return "", retry.Permanent(fmt.Errorf("unsupported resource type %q", resourceType))
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s %s: %w", resourceType, id, err)
	}
	if !found {
		return remote.StatusNotFound, nil
	}
	return remote.StatusReady, nil
}

// Delete removes the resource. A resource that does not exist yields an
// error matching remote.ErrNotFound.
func (c *RealClient) Delete(ctx context.Context, resourceType, id string) error {
	n, err := parseID(id)
	if err != nil {
		return err
	}
	switch resourceType {
	case TypeNetwork:
		return (&DeleteOperation[*hcloud.Network]{
			ID:           n,
			ResourceType: resourceType,
			Get:          c.client.Network.GetByID,
			Delete:       c.client.Network.Delete,
		}).Execute(ctx, c)
	case TypeFirewall:
		return (&DeleteOperation[*hcloud.Firewall]{
			ID:           n,
			ResourceType: resourceType,
			Get:          c.client.Firewall.GetByID,
			Delete:       c.client.Firewall.Delete,
		}).Execute(ctx, c)
	case TypePlacementGroup:
		return (&DeleteOperation[*hcloud.PlacementGroup]{
			ID:           n,
			ResourceType: resourceType,
			Get:          c.client.PlacementGroup.GetByID,
			Delete:       c.client.PlacementGroup.Delete,
		}).Execute(ctx, c)
	case TypeSSHKey:
		return (&DeleteOperation[*hcloud.SSHKey]{
			ID:           n,
			ResourceType: resourceType,
			Get:          c.client.SSHKey.GetByID,
			Delete:       c.client.SSHKey.Delete,
		}).Execute(ctx, c)
	default:
		return retry.Permanent(fmt.Errorf("unsupported resource type %q", resourceType))
	}
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, retry.Permanent(fmt.Errorf("invalid resource id %q", id))
	}
	return n, nil
}
