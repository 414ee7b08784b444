package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/imamik/stackctl/internal/breaker"
)

// Workflow is a workflow definition loaded from YAML.
type Workflow struct {
	// Name identifies the workflow in logs and labels.
	Name string `yaml:"name" validate:"required,identifier"`
	// CorrelationID pins the correlation id of the run. Empty means generate
	// one per run.
	CorrelationID string `yaml:"correlation_id,omitempty"`
	// Location is the default location for resources that need one.
	Location string `yaml:"location,omitempty" validate:"omitempty,location"`
	// Breakers overrides the circuit breaker thresholds per service key.
	Breakers map[string]breaker.Config `yaml:"breakers,omitempty" validate:"dive,keys,identifier,endkeys"`
	Steps    []WorkflowStep            `yaml:"steps" validate:"required,min=1,dive"`
}

// WorkflowStep declares one resource to create.
type WorkflowStep struct {
	Name string `yaml:"name" validate:"required,identifier"`
	// Service selects the circuit breaker. Defaults to the resource type.
	Service string `yaml:"service,omitempty" validate:"omitempty,identifier"`
	// Type is the remote resource type, e.g. network or firewall.
	Type string `yaml:"type" validate:"required,identifier"`
	// ResourceName is the name given to the remote resource.
	ResourceName string            `yaml:"resource_name" validate:"required,max=63"`
	Optional     bool              `yaml:"optional,omitempty"`
	Timeout      time.Duration     `yaml:"timeout,omitempty" validate:"gte=0"`
	Labels       map[string]string `yaml:"labels,omitempty"`
	Params       map[string]string `yaml:"params,omitempty"`
	// KeepOnRollback leaves the resource in place when the run is rolled
	// back.
	KeepOnRollback bool `yaml:"keep_on_rollback,omitempty"`
}

// ServiceKey returns the breaker key for the step.
func (s WorkflowStep) ServiceKey() string {
	if s.Service != "" {
		return s.Service
	}
	return s.Type
}

var (
	identifierRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)
	validate     = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("location", func(fl validator.FieldLevel) bool {
		return ValidLocations[fl.Field().String()]
	})
	return v
}

// LoadWorkflow reads and validates a workflow definition from a YAML file.
func LoadWorkflow(path string) (*Workflow, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	w, err := ParseWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// ParseWorkflow parses and validates a YAML workflow definition. Unknown
// fields are rejected.
func ParseWorkflow(data []byte) (*Workflow, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var w Workflow
	if err := dec.Decode(&w); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("workflow file is empty")
		}
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("workflow validation failed: %w", err)
	}
	return &w, nil
}

// Validate checks the workflow for structural errors.
func (w *Workflow) Validate() error {
	if err := validate.Struct(w); err != nil {
		return formatValidationError(err)
	}

	seen := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		if seen[s.Name] {
			return fmt.Errorf("duplicate step name %q", s.Name)
		}
		seen[s.Name] = true
	}

	for key, b := range w.Breakers {
		if b.FailureThreshold < 0 || b.HalfOpenTrialCount < 0 || b.RollingWindow < 0 || b.CooldownDuration < 0 {
			return fmt.Errorf("breakers.%s: thresholds and durations must not be negative", key)
		}
	}
	return nil
}

// formatValidationError turns validator errors into one line per field using
// the YAML field names.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Workflow.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "identifier":
			msgs = append(msgs, fmt.Sprintf("%s %q must be lowercase alphanumeric with _ . or -", field, fe.Value()))
		case "location":
			msgs = append(msgs, fmt.Sprintf("%s %q is not a valid location", field, fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
