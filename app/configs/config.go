package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	HTTP     HTTPConfig     `json:"http"`
	Reminder ReminderConfig `json:"reminder"`
	Storage  StorageConfig  `json:"storage"`
	CLI      CLIConfig      `json:"cli"`
}

type AgentConfig struct {
	Name       string `json:"name"`
	Strategy   string `json:"strategy"`
	Model      string `json:"model"`
	TimeoutSec int    `json:"timeout_sec"`
}

type HTTPConfig struct {
	Port int `json:"port"`
}

type ReminderConfig struct {
	ScanIntervalSec int `json:"scan_interval_sec"`
}

type StorageConfig struct {
	DataDir string `json:"data_dir"`
}

type CLIConfig struct {
	UserID string `json:"user_id"`
}

// Strategy names accepted in AgentConfig.Strategy. "auto" picks the
// model strategy when an API key is present and falls back to rules.
const (
	StrategyAuto  = "auto"
	StrategyRules = "rules"
	StrategyModel = "model"
)

// Manager loads the JSON config, fills defaults, and writes the
// resolved file back so a fresh deployment gets a complete template.
type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	mgr := &Manager{path: path, cfg: defaultConfig()}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := validate(mgr.cfg); err != nil {
		return nil, err
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Agent.Name) == "" {
		cfg.Agent.Name = "TaskPilot"
	}
	if strings.TrimSpace(cfg.Agent.Strategy) == "" {
		cfg.Agent.Strategy = StrategyAuto
	}
	if strings.TrimSpace(cfg.Agent.Model) == "" {
		cfg.Agent.Model = "gpt-4o-mini"
	}
	if cfg.Agent.TimeoutSec <= 0 {
		cfg.Agent.TimeoutSec = 30
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Reminder.ScanIntervalSec <= 0 {
		cfg.Reminder.ScanIntervalSec = 30
	}
	if strings.TrimSpace(cfg.Storage.DataDir) == "" {
		cfg.Storage.DataDir = "data"
	}
	if strings.TrimSpace(cfg.CLI.UserID) == "" {
		cfg.CLI.UserID = "local_user"
	}
}

func validate(cfg Config) error {
	switch cfg.Agent.Strategy {
	case StrategyAuto, StrategyRules, StrategyModel:
	default:
		return fmt.Errorf("config: unknown agent strategy %q", cfg.Agent.Strategy)
	}
	if cfg.HTTP.Port > 65535 {
		return fmt.Errorf("config: invalid http port %d", cfg.HTTP.Port)
	}
	return nil
}
