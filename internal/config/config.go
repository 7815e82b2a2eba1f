// Package config resolves the Workshop workspace and holds the runtime
// configuration shared by the server and the CLI.
//
// Configuration is layered: defaults, then an optional workshop.yaml in
// the workspace, then WORKSHOP_* environment variables. Viper does the
// layering; this package owns the keys and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// WorkspaceDirName is the directory Workshop keeps its state in,
// resolved upward from the working directory.
const WorkspaceDirName = ".workshop"

// ConfigFileName is the optional per-workspace configuration file.
const ConfigFileName = "workshop.yaml"

// Config is the resolved runtime configuration.
type Config struct {
	// WorkspaceDir is the absolute path of the .workshop directory.
	WorkspaceDir string `mapstructure:"workspace_dir"`
	// ProjectRoot is the directory the workspace belongs to.
	ProjectRoot string `mapstructure:"project_root"`

	// AutoCreateProjects registers unknown project ids on first append.
	AutoCreateProjects bool `mapstructure:"auto_create_projects"`
	// MaxEventLength caps persisted event text.
	MaxEventLength int `mapstructure:"max_event_length"`
	// MaxQueryLimit caps per-query result counts.
	MaxQueryLimit int `mapstructure:"max_query_limit"`

	// PromotionThreshold is the recurrence count that promotes a cluster
	// to a standard.
	PromotionThreshold int `mapstructure:"promotion_threshold"`
	// CriticalThreshold is the promotion threshold for clusters with a
	// critical event.
	CriticalThreshold int `mapstructure:"critical_threshold"`
	// SimilarityCutoff is the minimum normalized-text similarity for
	// clustering.
	SimilarityCutoff float64 `mapstructure:"similarity_cutoff"`

	// AssembleMaxFiles caps candidate files per context bundle.
	AssembleMaxFiles int `mapstructure:"assemble_max_files"`
	// AssembleMaxHistory caps history events per context bundle.
	AssembleMaxHistory int `mapstructure:"assemble_max_history"`
	// AssembleByteBudget caps the rendered bundle size.
	AssembleByteBudget int `mapstructure:"assemble_byte_budget"`

	// StaleTaskDays is the age after which audit flags a still-active
	// task run. Flagging is report-only.
	StaleTaskDays int `mapstructure:"stale_task_days"`

	// GateRequiredCommands must pass in verification for the gate.
	GateRequiredCommands []string `mapstructure:"gate_required_commands"`
	// GateHighRiskDomains downgrade clean passes to caution when RA tags
	// are open.
	GateHighRiskDomains []string `mapstructure:"gate_high_risk_domains"`
}

// Load resolves the workspace starting at startDir and layers the
// configuration sources. A missing workshop.yaml is fine; a malformed
// one is an error.
func Load(startDir string) (*Config, error) {
	root, workspace := resolveWorkspace(startDir)

	v := viper.New()
	v.SetDefault("workspace_dir", workspace)
	v.SetDefault("project_root", root)
	v.SetDefault("auto_create_projects", true)
	v.SetDefault("max_event_length", 4000)
	v.SetDefault("max_query_limit", 500)
	v.SetDefault("promotion_threshold", 3)
	v.SetDefault("critical_threshold", 1)
	v.SetDefault("similarity_cutoff", 0.80)
	v.SetDefault("assemble_max_files", 10)
	v.SetDefault("assemble_max_history", 15)
	v.SetDefault("assemble_byte_budget", 24*1024)
	v.SetDefault("stale_task_days", 14)
	v.SetDefault("gate_required_commands", []string{})
	v.SetDefault("gate_high_risk_domains", []string{})

	v.SetEnvPrefix("WORKSHOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(filepath.Join(workspace, ConfigFileName))
	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: reading %s: %w", ConfigFileName, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// resolveWorkspace walks up from startDir looking for an existing
// .workshop directory. If none exists, the workspace lives directly
// under startDir.
func resolveWorkspace(startDir string) (root, workspace string) {
	if startDir == "" {
		startDir, _ = os.Getwd()
	}
	current := startDir
	for {
		candidate := filepath.Join(current, WorkspaceDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return current, candidate
		}
		parent := filepath.Dir(current)
		if parent == current {
			return startDir, filepath.Join(startDir, WorkspaceDirName)
		}
		current = parent
	}
}
