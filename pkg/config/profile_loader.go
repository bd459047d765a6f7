package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeploymentProfile overrides a subset of Config's numeric bounds for one
// named deployment (e.g. "staging" runs smaller step/path limits than
// "prod"). Fields left at their zero value do not override Default().
type DeploymentProfile struct {
	Name             string `yaml:"name"`
	MaxSteps         int    `yaml:"max_steps,omitempty"`
	MaxDepth         int    `yaml:"max_depth,omitempty"`
	MaxPaths         int    `yaml:"max_paths,omitempty"`
	MaxPathDepth     int    `yaml:"max_path_depth,omitempty"`
	AdapterTimeoutMS int    `yaml:"adapter_timeout_ms,omitempty"`
}

// LoadProfile reads profile_<name>.yaml from profilesDir.
func LoadProfile(profilesDir, name string) (*DeploymentProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile DeploymentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml file from profilesDir, keyed
// by profile name.
func LoadAllProfiles(profilesDir string) (map[string]*DeploymentProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*DeploymentProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile DeploymentProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Name == "" {
			base := filepath.Base(path)
			profile.Name = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Name] = &profile
	}
	return profiles, nil
}

// Apply overlays a DeploymentProfile's non-zero fields onto cfg, returning
// the merged Config. Fields the profile leaves at zero keep cfg's value.
func (cfg Config) Apply(p *DeploymentProfile) Config {
	if p == nil {
		return cfg
	}
	if p.MaxSteps > 0 {
		cfg.FlowLimits.MaxSteps = p.MaxSteps
	}
	if p.MaxDepth > 0 {
		cfg.FlowLimits.MaxDepth = p.MaxDepth
	}
	if p.MaxPaths > 0 {
		cfg.MaxPaths = p.MaxPaths
	}
	if p.MaxPathDepth > 0 {
		cfg.MaxDepth = p.MaxPathDepth
	}
	if p.AdapterTimeoutMS > 0 {
		cfg.AdapterTimeoutMS = p.AdapterTimeoutMS
	}
	return cfg
}
