package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Auth       AuthConfig       `yaml:"auth"`
	LLM        LLMConfig        `yaml:"llm"`
	Storage    StorageConfig    `yaml:"storage"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Limits     LimitConfig      `yaml:"limits"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	LogLevel string `yaml:"log_level"`
}

// KubernetesConfig holds Kubernetes connection configuration
type KubernetesConfig struct {
	Kubeconfig      string `yaml:"kubeconfig"`
	NamespacePrefix string `yaml:"namespace_prefix"`
	RuntimeClass    string `yaml:"runtime_class"`
	// BaseDomain is the wildcard domain that resolves to the ingress in
	// front of sandbox pods; app URLs are {port}-{sandbox}.{BaseDomain}.
	BaseDomain string `yaml:"base_domain"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Secret string `yaml:"secret"`
}

// LLMConfig holds model selection for the generation orchestrator
type LLMConfig struct {
	ChatModel  string `yaml:"chat_model"`
	CodeModel  string `yaml:"code_model"`
	TitleModel string `yaml:"title_model"`
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
}

// SandboxConfig holds sandbox lifecycle settings
type SandboxConfig struct {
	Image string `yaml:"image"`
	// TTLSeconds is the sandbox lifetime, extended on each touch
	TTLSeconds int `yaml:"ttl_seconds"`
	// StartupTimeoutSeconds bounds pod creation and readiness
	StartupTimeoutSeconds int    `yaml:"startup_timeout_seconds"`
	AppPort               int    `yaml:"app_port"`
	CPU                   string `yaml:"cpu"`
	Memory                string `yaml:"memory"`
	Storage               string `yaml:"storage"`
}

// LimitConfig holds request bounds
type LimitConfig struct {
	// MaxUploadBytes bounds synchronous CSV analysis on the upload path
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	// StreamRequestsPerMinute is the per-user rate limit on generation
	StreamRequestsPerMinute int `yaml:"stream_requests_per_minute"`
	// LLMTimeoutSeconds bounds each model call
	LLMTimeoutSeconds int `yaml:"llm_timeout_seconds"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	setDefaults(cfg)

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	overrideFromEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(cfg *Config) {
	cfg.Server.Port = 8080
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.LogLevel = "info"

	cfg.Kubernetes.NamespacePrefix = "grunty-"
	cfg.Kubernetes.RuntimeClass = "gvisor"
	cfg.Kubernetes.BaseDomain = "apps.grunty.dev"

	cfg.LLM.ChatModel = "gemini-1.5-pro-latest"
	cfg.LLM.CodeModel = "gemini-1.5-pro-latest"
	cfg.LLM.TitleModel = "gemini-1.5-flash-latest"

	cfg.Sandbox.Image = "grunty/streamlit-sandbox:latest"
	cfg.Sandbox.TTLSeconds = 300
	cfg.Sandbox.StartupTimeoutSeconds = 120 // allows for image pulls
	cfg.Sandbox.AppPort = 8501
	cfg.Sandbox.CPU = "1000m"
	cfg.Sandbox.Memory = "1Gi"
	cfg.Sandbox.Storage = "2Gi"

	cfg.Limits.MaxUploadBytes = 10 * 1024 * 1024
	cfg.Limits.StreamRequestsPerMinute = 10
	cfg.Limits.LLMTimeoutSeconds = 120
}

// overrideFromEnv overrides config with environment variables
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("GRUNTY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GRUNTY_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("GRUNTY_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("GRUNTY_KUBECONFIG"); v != "" {
		cfg.Kubernetes.Kubeconfig = v
	}
	if v := os.Getenv("GRUNTY_NAMESPACE_PREFIX"); v != "" {
		cfg.Kubernetes.NamespacePrefix = v
	}
	if v := os.Getenv("GRUNTY_RUNTIME_CLASS"); v != "" {
		cfg.Kubernetes.RuntimeClass = v
	}
	if v := os.Getenv("GRUNTY_BASE_DOMAIN"); v != "" {
		cfg.Kubernetes.BaseDomain = v
	}
	if v := os.Getenv("GRUNTY_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("GRUNTY_CHAT_MODEL"); v != "" {
		cfg.LLM.ChatModel = v
	}
	if v := os.Getenv("GRUNTY_CODE_MODEL"); v != "" {
		cfg.LLM.CodeModel = v
	}
	if v := os.Getenv("GRUNTY_TITLE_MODEL"); v != "" {
		cfg.LLM.TitleModel = v
	}
	if v := os.Getenv("GRUNTY_S3_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("GRUNTY_S3_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := os.Getenv("GRUNTY_SANDBOX_IMAGE"); v != "" {
		cfg.Sandbox.Image = v
	}
	if v := os.Getenv("GRUNTY_SANDBOX_TTL"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			cfg.Sandbox.TTLSeconds = val
		}
	}
	if v := os.Getenv("GRUNTY_SANDBOX_STARTUP_TIMEOUT"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			cfg.Sandbox.StartupTimeoutSeconds = val
		}
	}
	if v := os.Getenv("GRUNTY_SANDBOX_APP_PORT"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			cfg.Sandbox.AppPort = val
		}
	}
	if v := os.Getenv("GRUNTY_MAX_UPLOAD_BYTES"); v != "" {
		if val, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Limits.MaxUploadBytes = val
		}
	}
	if v := os.Getenv("GRUNTY_STREAM_RPM"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			cfg.Limits.StreamRequestsPerMinute = val
		}
	}
	if v := os.Getenv("GRUNTY_LLM_TIMEOUT"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			cfg.Limits.LLMTimeoutSeconds = val
		}
	}
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}

	if cfg.Kubernetes.NamespacePrefix == "" {
		return fmt.Errorf("namespace prefix cannot be empty")
	}

	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required")
	}

	if cfg.Sandbox.TTLSeconds <= 0 {
		return fmt.Errorf("sandbox ttl must be positive")
	}

	if cfg.Sandbox.AppPort < 1 || cfg.Sandbox.AppPort > 65535 {
		return fmt.Errorf("invalid sandbox app port: %d", cfg.Sandbox.AppPort)
	}

	if cfg.Limits.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}

	return nil
}
