package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Council  CouncilConfig  `json:"council"`
	Approval ApprovalConfig `json:"approval"`
	Executor ExecutorConfig `json:"executor"`
	Mesh     MeshConfig     `json:"mesh"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Server   ServerConfig   `json:"server"`
}

type AgentConfig struct {
	Name        string `json:"name"`
	CatalogPath string `json:"catalog_path"`
}

type VoterConfig struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"` // cli | api
	Command   string   `json:"command,omitempty"`
	Args      []string `json:"args,omitempty"`
	Model     string   `json:"model,omitempty"`
	BaseURL   string   `json:"base_url,omitempty"`
	APIKeyEnv string   `json:"api_key_env,omitempty"`
}

type CouncilConfig struct {
	Voters            []VoterConfig `json:"voters"`
	Quorum            int           `json:"quorum"`
	VoterTimeoutSec   int           `json:"voter_timeout_sec"`
	ReasoningMaxRunes int           `json:"reasoning_max_runes"`
}

type ApprovalConfig struct {
	Mode             string            `json:"mode"` // auto | approve_all | approve_high_risk
	RequestTTLSec    int               `json:"request_ttl_sec"`
	OnExpiry         string            `json:"on_expiry"` // reject | approve
	SweepIntervalSec int               `json:"sweep_interval_sec"`
	ActionRisks      map[string]string `json:"action_risks,omitempty"`
}

type ExecutorConfig struct {
	TimeoutSec int    `json:"timeout_sec"`
	RunLogDir  string `json:"run_log_dir"`
}

type MeshConfig struct {
	MaxDepth int `json:"max_depth"`
}

type StorageConfig struct {
	Driver   string `json:"driver"` // sqlite | mysql | memory
	DataDir  string `json:"data_dir"`
	MySQLDSN string `json:"mysql_dsn,omitempty"`
}

type QueueConfig struct {
	Driver        string `json:"driver"` // memory | redis | amqp
	Buffer        int    `json:"buffer"`
	Workers       int    `json:"workers"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	RedisQueue    string `json:"redis_queue,omitempty"`
	AMQPURL       string `json:"amqp_url,omitempty"`
	AMQPQueue     string `json:"amqp_queue,omitempty"`
	AMQPPrefetch  int    `json:"amqp_prefetch,omitempty"`
}

type ServerConfig struct {
	Port               int  `json:"port"`
	ShutdownTimeoutSec int  `json:"shutdown_timeout_sec"`
	CLIEnabled         bool `json:"cli_enabled"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

// NewManager loads the config at path, applying overrides to the raw JSON
// before decoding. A missing file is created with defaults.
func NewManager(path string, overrides []string) (*Manager, error) {
	mgr := &Manager{
		path: path,
		cfg:  defaultConfig(),
	}
	if err := mgr.load(overrides); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
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

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load(overrides []string) error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) && len(overrides) > 0 {
			data = []byte("{}")
		} else {
			return err
		}
	}
	if len(overrides) > 0 {
		data, err = ApplyOverrides(data, overrides)
		if err != nil {
			return err
		}
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
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
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
		cfg.Agent.Name = "LastAgent"
	}
	if strings.TrimSpace(cfg.Agent.CatalogPath) == "" {
		cfg.Agent.CatalogPath = filepath.Join("config", "agents.yaml")
	}

	if len(cfg.Council.Voters) == 0 {
		cfg.Council.Voters = []VoterConfig{
			{ID: "claude", Kind: "cli", Command: "claude"},
			{ID: "codex", Kind: "cli", Command: "codex", Args: []string{"exec"}},
			{ID: "gpt", Kind: "api", Model: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY"},
		}
	}
	if cfg.Council.Quorum <= 0 || cfg.Council.Quorum > len(cfg.Council.Voters) {
		cfg.Council.Quorum = len(cfg.Council.Voters)/2 + 1
	}
	if cfg.Council.VoterTimeoutSec <= 0 {
		cfg.Council.VoterTimeoutSec = 30
	}
	if cfg.Council.ReasoningMaxRunes <= 0 {
		cfg.Council.ReasoningMaxRunes = 500
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Approval.Mode)) {
	case "auto", "approve_all", "approve_high_risk":
		cfg.Approval.Mode = strings.ToLower(strings.TrimSpace(cfg.Approval.Mode))
	default:
		cfg.Approval.Mode = "auto"
	}
	if cfg.Approval.RequestTTLSec <= 0 {
		cfg.Approval.RequestTTLSec = 300
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Approval.OnExpiry)) {
	case "approve":
		cfg.Approval.OnExpiry = "approve"
	default:
		// fail closed: an unanswered request counts as rejected
		cfg.Approval.OnExpiry = "reject"
	}
	if cfg.Approval.SweepIntervalSec <= 0 {
		cfg.Approval.SweepIntervalSec = 30
	}

	if cfg.Executor.TimeoutSec <= 0 {
		cfg.Executor.TimeoutSec = 300
	}
	if strings.TrimSpace(cfg.Executor.RunLogDir) == "" {
		cfg.Executor.RunLogDir = filepath.Join("output", "runs")
	}

	if cfg.Mesh.MaxDepth <= 0 {
		cfg.Mesh.MaxDepth = 5
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "mysql", "memory":
		cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	default:
		cfg.Storage.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Storage.DataDir) == "" {
		cfg.Storage.DataDir = filepath.Join("output", "db")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Queue.Driver)) {
	case "redis", "amqp":
		cfg.Queue.Driver = strings.ToLower(strings.TrimSpace(cfg.Queue.Driver))
	default:
		cfg.Queue.Driver = "memory"
	}
	if cfg.Queue.Buffer <= 0 {
		cfg.Queue.Buffer = 64
	}
	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = 2
	}
	if strings.TrimSpace(cfg.Queue.RedisQueue) == "" {
		cfg.Queue.RedisQueue = "lastagent:tasks"
	}
	if strings.TrimSpace(cfg.Queue.AMQPQueue) == "" {
		cfg.Queue.AMQPQueue = "lastagent.tasks"
	}
	if cfg.Queue.AMQPPrefetch <= 0 {
		cfg.Queue.AMQPPrefetch = 4
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeoutSec <= 0 {
		cfg.Server.ShutdownTimeoutSec = 5
	}
}
