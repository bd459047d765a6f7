package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadProfileStaging(t *testing.T) {
	dir := locateProfiles(t)
	p, err := LoadProfile(dir, "staging")
	if err != nil {
		t.Fatalf("LoadProfile(staging): %v", err)
	}
	if p.MaxSteps != 200 {
		t.Errorf("expected max_steps 200, got %d", p.MaxSteps)
	}
	if p.MaxDepth != 16 {
		t.Errorf("expected max_depth 16, got %d", p.MaxDepth)
	}
}

func TestLoadProfileProd(t *testing.T) {
	dir := locateProfiles(t)
	p, err := LoadProfile(dir, "prod")
	if err != nil {
		t.Fatalf("LoadProfile(prod): %v", err)
	}
	if p.MaxPaths != 10000 {
		t.Errorf("expected max_paths 10000, got %d", p.MaxPaths)
	}
	if p.AdapterTimeoutMS != 3000 {
		t.Errorf("expected adapter_timeout_ms 3000, got %d", p.AdapterTimeoutMS)
	}
}

func TestLoadAllProfiles(t *testing.T) {
	dir := locateProfiles(t)
	profiles, err := LoadAllProfiles(dir)
	if err != nil {
		t.Fatalf("LoadAllProfiles: %v", err)
	}
	if len(profiles) < 2 {
		t.Errorf("expected at least 2 profiles, got %d", len(profiles))
	}
	for name, p := range profiles {
		if p.Name == "" {
			t.Errorf("profile %s has empty name", name)
		}
	}
}

func TestApplyOverridesNonZeroFieldsOnly(t *testing.T) {
	base := Default()
	p := &DeploymentProfile{Name: "custom", MaxSteps: 50}

	merged := base.Apply(p)
	if merged.FlowLimits.MaxSteps != 50 {
		t.Errorf("expected overridden max_steps 50, got %d", merged.FlowLimits.MaxSteps)
	}
	if merged.FlowLimits.MaxDepth != base.FlowLimits.MaxDepth {
		t.Errorf("expected untouched max_depth %d, got %d", base.FlowLimits.MaxDepth, merged.FlowLimits.MaxDepth)
	}
}

func TestApplyNilProfileIsNoop(t *testing.T) {
	base := Default()
	if merged := base.Apply(nil); merged != base {
		t.Errorf("Apply(nil) changed config: got %+v, want %+v", merged, base)
	}
}

func locateProfiles(t *testing.T) string {
	t.Helper()
	wd, _ := os.Getwd()
	p := filepath.Join(wd, "profiles")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	t.Skip("profiles directory not found")
	return ""
}
