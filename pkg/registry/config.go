package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/edgesurveillance/eventbus/pkg/types"
)

// MachineConfig is the YAML document shape for one machine: a map of
// state name to state config, a list of transitions, and the initial
// state name. This mirrors the original implementation's per-machine
// config file (detector-config.yaml, surveillance-config.yaml).
type MachineConfig struct {
	States       map[string]StateConfig `yaml:"states"`
	Transitions  []TransitionConfig     `yaml:"transitions"`
	InitialState string                 `yaml:"initial_state"`
}

// StateConfig is one entry of MachineConfig.States.
type StateConfig struct {
	ContainerImage string `yaml:"container_image"`
}

// TransitionConfig is one entry of MachineConfig.Transitions.
type TransitionConfig struct {
	Name         string `yaml:"name"`
	FromState    string `yaml:"from_state"`
	ToState      string `yaml:"to_state"`
	TriggerEvent string `yaml:"trigger_event"`
}

// LoadMachineConfigFile reads and parses a machine config YAML file from
// disk, then builds the Machine it describes.
func LoadMachineConfigFile(machineID, path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read machine config %s: %w", path, err)
	}
	var cfg MachineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse machine config %s: %w", path, err)
	}
	return NewMachine(machineID, cfg)
}

// NewMachine validates cfg and builds the Machine it describes: every
// state referenced by a transition or by initial_state must be declared,
// and initial_state itself must be declared.
func NewMachine(machineID string, cfg MachineConfig) (*Machine, error) {
	if len(cfg.States) == 0 {
		return nil, fmt.Errorf("machine %s: no states declared", machineID)
	}
	if cfg.InitialState == "" {
		return nil, fmt.Errorf("machine %s: initial_state is required", machineID)
	}
	if _, ok := cfg.States[cfg.InitialState]; !ok {
		return nil, fmt.Errorf("machine %s: initial_state %q is not a declared state", machineID, cfg.InitialState)
	}

	states := make(map[string]*types.State, len(cfg.States))
	for name, sc := range cfg.States {
		states[name] = &types.State{Name: name, ContainerImage: sc.ContainerImage}
	}

	transitions := make(map[string]*types.Transition, len(cfg.Transitions))
	order := make([]string, 0, len(cfg.Transitions))
	for _, tc := range cfg.Transitions {
		if _, ok := states[tc.FromState]; !ok {
			return nil, fmt.Errorf("machine %s: transition %q references undeclared from_state %q", machineID, tc.Name, tc.FromState)
		}
		if _, ok := states[tc.ToState]; !ok {
			return nil, fmt.Errorf("machine %s: transition %q references undeclared to_state %q", machineID, tc.Name, tc.ToState)
		}
		transitions[tc.Name] = &types.Transition{
			Name:         tc.Name,
			FromState:    tc.FromState,
			ToState:      tc.ToState,
			TriggerEvent: tc.TriggerEvent,
		}
		order = append(order, tc.Name)
	}

	states[cfg.InitialState].Activate()

	return &Machine{
		ID:           machineID,
		states:       states,
		transitions:  transitions,
		order:        order,
		currentState: cfg.InitialState,
	}, nil
}
