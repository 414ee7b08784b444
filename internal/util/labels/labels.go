package labels

import (
	"regexp"
	"strings"
)

// Standard label keys.
const (
	// KeyCorrelation identifies the workflow run that created a resource.
	KeyCorrelation = "stackctl.io/correlation-id"

	// KeyStep identifies the workflow step that created a resource.
	KeyStep = "stackctl.io/step"

	// KeyWorkflow names the workflow definition.
	KeyWorkflow = "stackctl.io/workflow"

	// KeyManagedBy identifies the management system.
	KeyManagedBy = "stackctl.io/managed-by"
)

// ManagedByStackctl is the KeyManagedBy value for resources created by stackctl.
const ManagedByStackctl = "stackctl"

// Label values may contain alphanumerics and "-_." and must start and end
// with an alphanumeric.
var invalidValueChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

const maxValueLength = 63

// LabelBuilder provides a fluent interface for building resource labels.
type LabelBuilder struct {
	labels map[string]string
}

// NewLabelBuilder creates a builder with the correlation id and managed-by
// labels pre-set.
func NewLabelBuilder(correlationID string) *LabelBuilder {
	return &LabelBuilder{
		labels: map[string]string{
			KeyCorrelation: SanitizeValue(correlationID),
			KeyManagedBy:   ManagedByStackctl,
		},
	}
}

// WithStep adds the step label.
func (lb *LabelBuilder) WithStep(step string) *LabelBuilder {
	lb.labels[KeyStep] = SanitizeValue(step)
	return lb
}

// WithWorkflowIfSet adds the workflow label only if name is non-empty.
func (lb *LabelBuilder) WithWorkflowIfSet(name string) *LabelBuilder {
	if name != "" {
		lb.labels[KeyWorkflow] = SanitizeValue(name)
	}
	return lb
}

// Merge adds all labels from the provided map. Existing stackctl.io keys are
// not overwritten.
func (lb *LabelBuilder) Merge(extra map[string]string) *LabelBuilder {
	for k, v := range extra {
		if _, reserved := lb.labels[k]; reserved && strings.HasPrefix(k, "stackctl.io/") {
			continue
		}
		lb.labels[k] = v
	}
	return lb
}

// Build returns a copy of the labels map.
func (lb *LabelBuilder) Build() map[string]string {
	result := make(map[string]string, len(lb.labels))
	for k, v := range lb.labels {
		result[k] = v
	}
	return result
}

// SelectorForCorrelation returns a label selector for all resources created
// by one workflow run.
func SelectorForCorrelation(correlationID string) string {
	return KeyCorrelation + "=" + SanitizeValue(correlationID)
}

// SanitizeValue maps s onto the allowed label value alphabet.
func SanitizeValue(s string) string {
	s = invalidValueChars.ReplaceAllString(s, "-")
	if len(s) > maxValueLength {
		s = s[:maxValueLength]
	}
	return strings.Trim(s, "-_.")
}
