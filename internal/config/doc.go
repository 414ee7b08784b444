// Package config loads stackctl configuration.
//
// [LoadResilience] reads the retry, circuit breaker and timeout settings from
// STACKCTL_* environment variables. [LoadWorkflow] reads a YAML workflow
// definition: an ordered list of resources to create, plus optional
// per-service breaker overrides.
package config
