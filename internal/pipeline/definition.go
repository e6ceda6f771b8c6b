package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"comfyforge/internal/services"
)

const (
	DefaultTemperature = 0.7
	DefaultSeed        = 42
	DefaultModel       = "default"
)

// StepDefinition describes one provider call.
type StepDefinition struct {
	Step        string         `yaml:"step" json:"step"`
	Provider    string         `yaml:"provider" json:"provider"`
	Model       string         `yaml:"model,omitempty" json:"model,omitempty"`
	Prompt      string         `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Text        string         `yaml:"text,omitempty" json:"text,omitempty"`
	Input       string         `yaml:"input,omitempty" json:"input,omitempty"`
	Image       string         `yaml:"image,omitempty" json:"image,omitempty"`
	OutputVar   string         `yaml:"output_var,omitempty" json:"output_var,omitempty"`
	Temperature *float64       `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	Seed        *int64         `yaml:"seed,omitempty" json:"seed,omitempty"`
	ExtraParams map[string]any `yaml:"extra_params,omitempty" json:"extra_params,omitempty"`
	Tags        []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
	Strategy    string         `yaml:"strategy,omitempty" json:"strategy,omitempty"`
}

// OutputName returns the variable the step's result is stored under.
func (s StepDefinition) OutputName() string {
	if name := strings.TrimSpace(s.OutputVar); name != "" {
		return name
	}
	return strings.TrimSpace(s.Step)
}

// ModelName returns the requested model, or "default".
func (s StepDefinition) ModelName() string {
	if model := strings.TrimSpace(s.Model); model != "" {
		return model
	}
	return DefaultModel
}

// TemperatureValue returns the sampling temperature, defaulting to 0.7.
func (s StepDefinition) TemperatureValue() float64 {
	if s.Temperature == nil {
		return DefaultTemperature
	}
	return *s.Temperature
}

// SeedValue returns the seed, defaulting to 42.
func (s StepDefinition) SeedValue() int64 {
	if s.Seed == nil {
		return DefaultSeed
	}
	return *s.Seed
}

// Definition is a pipeline plus optional per-provider override secrets.
type Definition struct {
	Name         string            `yaml:"name,omitempty" json:"name,omitempty"`
	Steps        []StepDefinition  `yaml:"pipeline" json:"pipeline"`
	KeyOverrides map[string]string `yaml:"key_overrides,omitempty" json:"key_overrides,omitempty"`
}

// Validate checks that every step names a provider and fills default step names.
func (d *Definition) Validate() error {
	if len(d.Steps) == 0 {
		return services.Wrap(services.ErrValidation, "pipeline", "validate", "pipeline has no steps", nil)
	}
	for i := range d.Steps {
		step := &d.Steps[i]
		if name := strings.TrimSpace(step.Step); name == "" {
			step.Step = fmt.Sprintf("step_%d", i+1)
		} else if name != step.Step {
			step.Step = name
		}
		if strings.TrimSpace(step.Provider) == "" {
			return services.Wrap(services.ErrValidation, "pipeline", "validate",
				fmt.Sprintf("step %d (%s) has no provider", i, step.Step), nil)
		}
	}
	return nil
}

// LoadDefinition reads a pipeline file, choosing JSON or YAML by extension.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read pipeline: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return ParseDefinition(data, format)
}

// ParseDefinition decodes a pipeline document. The root may be a mapping with
// a pipeline list or a bare list of steps.
func ParseDefinition(data []byte, format string) (Definition, error) {
	var def Definition
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return def, services.Wrap(services.ErrValidation, "pipeline", "parse", "empty pipeline document", nil)
	}
	bareList := trimmed[0] == '[' || bytes.HasPrefix(trimmed, []byte("- "))

	var err error
	switch strings.ToLower(format) {
	case "json":
		if bareList {
			err = json.Unmarshal(trimmed, &def.Steps)
		} else {
			err = json.Unmarshal(trimmed, &def)
		}
	default:
		if bareList {
			err = yaml.Unmarshal(trimmed, &def.Steps)
		} else {
			err = yaml.Unmarshal(trimmed, &def)
		}
	}
	if err != nil {
		return Definition{}, services.Wrap(services.ErrValidation, "pipeline", "parse", "decode pipeline", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}
