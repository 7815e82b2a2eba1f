package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWithoutWorkspace(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.WorkspaceDir != filepath.Join(dir, WorkspaceDirName) {
		t.Errorf("WorkspaceDir = %q", cfg.WorkspaceDir)
	}
	if cfg.PromotionThreshold != 3 || cfg.CriticalThreshold != 1 {
		t.Errorf("thresholds = %d/%d, want 3/1", cfg.PromotionThreshold, cfg.CriticalThreshold)
	}
	if !cfg.AutoCreateProjects {
		t.Error("auto_create_projects should default to true")
	}
	if cfg.SimilarityCutoff != 0.80 {
		t.Errorf("similarity_cutoff = %v, want 0.80", cfg.SimilarityCutoff)
	}
}

func TestLoad_FindsWorkspaceUpward(t *testing.T) {
	root := t.TempDir()
	workspace := filepath.Join(root, WorkspaceDirName)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	nested := filepath.Join(root, "src", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cfg, err := Load(nested)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.WorkspaceDir != workspace {
		t.Errorf("WorkspaceDir = %q, want %q", cfg.WorkspaceDir, workspace)
	}
	if cfg.ProjectRoot != root {
		t.Errorf("ProjectRoot = %q, want %q", cfg.ProjectRoot, root)
	}
}

func TestLoad_WorkspaceFileOverridesDefaults(t *testing.T) {
	root := t.TempDir()
	workspace := filepath.Join(root, WorkspaceDirName)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	yaml := "promotion_threshold: 5\ngate_required_commands:\n  - go test\n"
	if err := os.WriteFile(filepath.Join(workspace, ConfigFileName), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.PromotionThreshold != 5 {
		t.Errorf("promotion_threshold = %d, want 5 from file", cfg.PromotionThreshold)
	}
	if len(cfg.GateRequiredCommands) != 1 || cfg.GateRequiredCommands[0] != "go test" {
		t.Errorf("gate_required_commands = %v", cfg.GateRequiredCommands)
	}
	// Untouched keys keep their defaults.
	if cfg.CriticalThreshold != 1 {
		t.Errorf("critical_threshold = %d, want default 1", cfg.CriticalThreshold)
	}
}

func TestLoad_MalformedConfigFails(t *testing.T) {
	root := t.TempDir()
	workspace := filepath.Join(root, WorkspaceDirName)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workspace, ConfigFileName), []byte("{{not yaml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(root); err == nil {
		t.Error("malformed yaml should fail loudly")
	}
}
