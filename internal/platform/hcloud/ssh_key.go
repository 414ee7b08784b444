package hcloud

import (
	"context"
	"errors"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/stackctl/pkg/remote"
)

// ensureSSHKey uploads an SSH public key. Params:
//   - public_key: the key in authorized_keys format (required)
func (c *RealClient) ensureSSHKey(ctx context.Context, spec remote.ResourceSpec) (int64, error) {
	return (&EnsureOperation[*hcloud.SSHKey, hcloud.SSHKeyCreateOpts]{
		Name:         spec.Name,
		ResourceType: TypeSSHKey,
		Labels:       spec.Labels,
		Get:          c.client.SSHKey.GetByName,
		Create:       simpleCreate(c.client.SSHKey.Create),
		LabelsOf:     func(k *hcloud.SSHKey) map[string]string { return k.Labels },
		IDOf:         func(k *hcloud.SSHKey) int64 { return k.ID },
		CreateOptsMapper: func() (hcloud.SSHKeyCreateOpts, error) {
			publicKey := spec.Params["public_key"]
			if publicKey == "" {
				return hcloud.SSHKeyCreateOpts{}, errors.New("public_key is required")
			}
			return hcloud.SSHKeyCreateOpts{
				Name:      spec.Name,
				PublicKey: publicKey,
				Labels:    spec.Labels,
			}, nil
		},
	}).Execute(ctx, c)
}
