package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest describes a batch of worker instances to launch.
type Manifest struct {
	Instances []ManifestInstance `yaml:"instances"`
}

// ManifestInstance is one worker definition in a manifest file.
type ManifestInstance struct {
	// Name labels the instance in reports; defaults to instance-N.
	Name string `yaml:"name"`

	// Command is the prompt delivered to the worker and the budget key
	// its consumption is recorded under.
	Command string `yaml:"command"`

	// Args are extra worker CLI arguments.
	Args []string `yaml:"args"`

	// Env is extra worker environment, KEY=VALUE form.
	Env []string `yaml:"env"`

	// EstimatedCost is the admission estimate in tokens.
	EstimatedCost float64 `yaml:"estimated_cost"`

	// Budget caps this command's token consumption, overriding any
	// per-command budget from the configuration. Zero means no override.
	Budget float64 `yaml:"budget"`
}

// LoadManifest reads and validates a YAML instance manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if len(m.Instances) == 0 {
		return nil, fmt.Errorf("manifest %s defines no instances", path)
	}
	for i, inst := range m.Instances {
		if inst.Command == "" {
			return nil, fmt.Errorf("manifest instance %d has no command", i)
		}
		if inst.Budget < 0 {
			return nil, fmt.Errorf("manifest instance %d has negative budget", i)
		}
	}

	return &m, nil
}
