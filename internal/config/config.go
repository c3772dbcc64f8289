package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrison/dockpipe/internal/engine"
	"github.com/harrison/dockpipe/internal/ligand"
	"github.com/harrison/dockpipe/internal/models"
	"github.com/harrison/dockpipe/internal/obabel"
)

// LigandConfig controls ligand preparation
type LigandConfig struct {
	// PH is the pH used for protonation
	PH float64 `yaml:"ph"`

	// MinNetCharge and MaxNetCharge bound the accepted net formal charge
	MinNetCharge int `yaml:"min_net_charge"`
	MaxNetCharge int `yaml:"max_net_charge"`

	// MaxHeavyAtoms rejects molecules with more non-hydrogen atoms
	MaxHeavyAtoms int `yaml:"max_heavy_atoms"`

	// AllowedElements lists the accepted element symbols
	AllowedElements []string `yaml:"allowed_elements"`
}

// ToolkitConfig locates the chemistry toolkit binaries
type ToolkitConfig struct {
	ObabelPath     string `yaml:"obabel_path"`
	ObminimizePath string `yaml:"obminimize_path"`
	ForceField     string `yaml:"force_field"`
	MinimizeSteps  int    `yaml:"minimize_steps"`
}

// EngineConfig locates and bounds the docking engine
type EngineConfig struct {
	VinaPath string `yaml:"vina_path"`

	// Timeout bounds one engine run (0 = no limit)
	Timeout time.Duration `yaml:"-"`
}

// HistoryConfig controls the docking history database
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// DBPath is the SQLite file; empty means $DOCKPIPE_HOME/history.db
	DBPath string `yaml:"db_path"`

	// KeepDays is how long runs are kept by "history prune" (0 = forever)
	KeepDays int `yaml:"keep_days"`
}

// ViewerConfig locates the molecule viewer
type ViewerConfig struct {
	PymolPath string `yaml:"pymol_path"`
}

// Config represents dockpipe configuration options
type Config struct {
	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where per-run logs are written
	LogDir string `yaml:"log_dir"`

	// TargetsDir holds the target artifacts; empty means resolve from the environment
	TargetsDir string `yaml:"targets_dir"`

	// WorkDir, when set, is reused for every request instead of a temp dir
	WorkDir string `yaml:"work_dir"`

	Seed int64 `yaml:"seed"`

	// CPUs is passed to the engine (0 = engine default)
	CPUs int `yaml:"cpus"`

	Ligand  LigandConfig  `yaml:"ligand"`
	Toolkit ToolkitConfig `yaml:"toolkit"`
	Engine  EngineConfig  `yaml:"engine"`
	History HistoryConfig `yaml:"history"`
	Viewer  ViewerConfig  `yaml:"viewer"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	policy := ligand.DefaultPolicy()
	return &Config{
		LogLevel: "info",
		LogDir:   ".dockpipe/logs",
		Seed:     models.DefaultSeed,
		Ligand: LigandConfig{
			PH:              ligand.DefaultPH,
			MinNetCharge:    policy.MinNetCharge,
			MaxNetCharge:    policy.MaxNetCharge,
			MaxHeavyAtoms:   policy.MaxHeavyAtoms,
			AllowedElements: policy.AllowedElements,
		},
		Toolkit: ToolkitConfig{
			ObabelPath:     obabel.DefaultObabelPath,
			ObminimizePath: obabel.DefaultMinimizePath,
			ForceField:     obabel.DefaultForceField,
			MinimizeSteps:  obabel.DefaultMinimizeSteps,
		},
		Engine: EngineConfig{
			VinaPath: engine.DefaultVinaPath,
			Timeout:  time.Hour,
		},
		History: HistoryConfig{
			Enabled:  true,
			KeepDays: 90,
		},
		Viewer: ViewerConfig{
			PymolPath: "pymol",
		},
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Use a temporary struct to handle duration parsing
	type yamlEngine struct {
		VinaPath string `yaml:"vina_path"`
		Timeout  string `yaml:"timeout"`
	}
	type yamlConfig struct {
		LogLevel   string        `yaml:"log_level"`
		LogDir     string        `yaml:"log_dir"`
		TargetsDir string        `yaml:"targets_dir"`
		WorkDir    string        `yaml:"work_dir"`
		Seed       int64         `yaml:"seed"`
		CPUs       int           `yaml:"cpus"`
		Ligand     LigandConfig  `yaml:"ligand"`
		Toolkit    ToolkitConfig `yaml:"toolkit"`
		Engine     yamlEngine    `yaml:"engine"`
		History    HistoryConfig `yaml:"history"`
		Viewer     ViewerConfig  `yaml:"viewer"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Detect which keys were actually present so zero values in the file
	// (seed: 0, min_net_charge: 0, enabled: false) still override defaults
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	has := func(section, key string) bool {
		if section == "" {
			_, ok := rawMap[key]
			return ok
		}
		m, _ := rawMap[section].(map[string]interface{})
		_, ok := m[key]
		return ok
	}

	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.TargetsDir != "" {
		cfg.TargetsDir = yamlCfg.TargetsDir
	}
	if yamlCfg.WorkDir != "" {
		cfg.WorkDir = yamlCfg.WorkDir
	}
	if has("", "seed") {
		cfg.Seed = yamlCfg.Seed
	}
	if has("", "cpus") {
		cfg.CPUs = yamlCfg.CPUs
	}

	l := yamlCfg.Ligand
	if has("ligand", "ph") {
		cfg.Ligand.PH = l.PH
	}
	if has("ligand", "min_net_charge") {
		cfg.Ligand.MinNetCharge = l.MinNetCharge
	}
	if has("ligand", "max_net_charge") {
		cfg.Ligand.MaxNetCharge = l.MaxNetCharge
	}
	if has("ligand", "max_heavy_atoms") {
		cfg.Ligand.MaxHeavyAtoms = l.MaxHeavyAtoms
	}
	if has("ligand", "allowed_elements") {
		cfg.Ligand.AllowedElements = l.AllowedElements
	}

	tk := yamlCfg.Toolkit
	if tk.ObabelPath != "" {
		cfg.Toolkit.ObabelPath = tk.ObabelPath
	}
	if tk.ObminimizePath != "" {
		cfg.Toolkit.ObminimizePath = tk.ObminimizePath
	}
	if tk.ForceField != "" {
		cfg.Toolkit.ForceField = tk.ForceField
	}
	if has("toolkit", "minimize_steps") {
		cfg.Toolkit.MinimizeSteps = tk.MinimizeSteps
	}

	if yamlCfg.Engine.VinaPath != "" {
		cfg.Engine.VinaPath = yamlCfg.Engine.VinaPath
	}
	if yamlCfg.Engine.Timeout != "" {
		timeout, err := time.ParseDuration(yamlCfg.Engine.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid engine.timeout format %q: %w", yamlCfg.Engine.Timeout, err)
		}
		cfg.Engine.Timeout = timeout
	}

	if has("history", "enabled") {
		cfg.History.Enabled = yamlCfg.History.Enabled
	}
	if has("history", "db_path") {
		cfg.History.DBPath = yamlCfg.History.DBPath
	}
	if has("history", "keep_days") {
		cfg.History.KeepDays = yamlCfg.History.KeepDays
	}

	if yamlCfg.Viewer.PymolPath != "" {
		cfg.Viewer.PymolPath = yamlCfg.Viewer.PymolPath
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .dockpipe/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".dockpipe", "config.yaml"))
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(logLevel, logDir, targetsDir, workDir *string, seed *int64, cpus *int, timeout *time.Duration) {
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if targetsDir != nil {
		c.TargetsDir = *targetsDir
	}
	if workDir != nil {
		c.WorkDir = *workDir
	}
	if seed != nil {
		c.Seed = *seed
	}
	if cpus != nil {
		c.CPUs = *cpus
	}
	if timeout != nil {
		c.Engine.Timeout = *timeout
	}
}

// Policy returns the structural policy described by the ligand section
func (c *Config) Policy() ligand.Policy {
	return ligand.Policy{
		AllowedElements: c.Ligand.AllowedElements,
		MinNetCharge:    c.Ligand.MinNetCharge,
		MaxNetCharge:    c.Ligand.MaxNetCharge,
		MaxAtomCharge:   1,
		MaxHeavyAtoms:   c.Ligand.MaxHeavyAtoms,
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.CPUs < 0 {
		return fmt.Errorf("cpus must be >= 0, got %d", c.CPUs)
	}

	if c.Ligand.PH < 0 || c.Ligand.PH > 14 {
		return fmt.Errorf("ligand.ph must be within [0, 14], got %g", c.Ligand.PH)
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("ligand: %w", err)
	}

	if c.Toolkit.MinimizeSteps <= 0 {
		return fmt.Errorf("toolkit.minimize_steps must be > 0, got %d", c.Toolkit.MinimizeSteps)
	}
	if c.Toolkit.ObabelPath == "" || c.Engine.VinaPath == "" {
		return fmt.Errorf("toolkit.obabel_path and engine.vina_path cannot be empty")
	}

	// Timeout can be 0 (no timeout) or positive, negative is invalid
	if c.Engine.Timeout < 0 {
		return fmt.Errorf("engine.timeout must be >= 0, got %v", c.Engine.Timeout)
	}

	if c.History.KeepDays < 0 {
		return fmt.Errorf("history.keep_days must be >= 0, got %d", c.History.KeepDays)
	}

	return nil
}
