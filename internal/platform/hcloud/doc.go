// Package hcloud adapts the Hetzner Cloud API to remote.Client.
//
// RealClient creates, inspects and deletes networks, firewalls, placement
// groups and SSH keys. Resources are looked up by name before they are
// created: a resource with the same name and the same correlation and step
// labels is treated as the result of an earlier attempt, so retried creates
// do not duplicate anything. Deletes retry while a resource is locked and
// report a missing resource as remote.ErrNotFound.
//
// Every API request passes a client-side token bucket (golang.org/x/time/rate)
// sized to the project's API quota. [Classify] maps API error codes to retry
// outcomes for the orchestration layer.
//
// CleanupByLabel removes everything carrying a label selector. It is the
// manual remediation path for runs that could not be rolled back.
package hcloud
