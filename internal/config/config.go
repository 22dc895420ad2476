package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ctgenie-cds-server/internal/domain"
	"github.com/spf13/viper"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	configFile string
	config     *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	return NewManagerWithFile("")
}

// NewManagerWithFile creates a configuration manager that reads an explicit
// config file instead of searching the default locations.
func NewManagerWithFile(path string) (*Manager, error) {
	m := &Manager{configFile: path}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ctgenie/")
	}

	v.SetEnvPrefix("CTGENIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The completion provider also honours the conventional OpenAI variables.
	_ = v.BindEnv("llm.api_key", "CTGENIE_LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.model", "CTGENIE_LLM_MODEL", "OPENAI_MODEL")
	_ = v.BindEnv("llm.base_url", "CTGENIE_LLM_BASE_URL", "OPENAI_BASE_URL")
	_ = v.BindEnv("retrieval.index_dir", "CTGENIE_RETRIEVAL_INDEX_DIR", "RAG_INDEX_DIR")

	setDefaults(v)

	// Config file is optional; defaults and environment variables still apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Reference data defaults
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.case_batches", []string{
		"synthetic_cases/batch_001.json",
		"synthetic_cases/batch_002.json",
		"synthetic_cases/batch_003.json",
	})
	v.SetDefault("data.guidelines_file", "clinical_guidelines/ctg_interpretation_guidelines.json")
	v.SetDefault("data.similar_cases_file", "similar_cases_database.json")
	v.SetDefault("data.glossary_file", "glossary.json")
	v.SetDefault("data.reference_ranges_file", "reference_ranges.json")
	v.SetDefault("data.similar_cases_k", 3)
	v.SetDefault("data.attribution_map_top_k", 10)
	v.SetDefault("data.evidence_top_k", 5)

	// Completion provider defaults
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.caregiver_temperature", 0.2)
	v.SetDefault("llm.caregiver_max_tokens", 700)
	v.SetDefault("llm.clinician_temperature", 0.2)
	v.SetDefault("llm.clinician_max_tokens", 900)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.rate_limit", 2.0)
	v.SetDefault("llm.burst", 2)

	// Retrieval defaults
	v.SetDefault("retrieval.index_dir", "")
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.cache_size", 128)
	v.SetDefault("retrieval.max_passage_chars", 1200)
	v.SetDefault("retrieval.breaker_failures", 3)
	v.SetDefault("retrieval.breaker_timeout", "30s")

	// Classifier defaults
	v.SetDefault("classifier.enabled", true)
	v.SetDefault("classifier.model_dir", "models")
	v.SetDefault("classifier.model_file", "ctg_classifier.onnx")
	v.SetDefault("classifier.shared_library_path", "")
	v.SetDefault("classifier.input_name", "float_input")
	v.SetDefault("classifier.output_name", "probabilities")

	// MCP defaults
	v.SetDefault("mcp.server_name", "ctgenie")
	v.SetDefault("mcp.server_version", "1.0.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetDataConfig returns reference data configuration
func (m *Manager) GetDataConfig() *domain.DataConfig {
	return &m.config.Data
}

// GetLLMConfig returns completion provider configuration
func (m *Manager) GetLLMConfig() *domain.LLMConfig {
	return &m.config.LLM
}

// GetRetrievalConfig returns retrieval configuration
func (m *Manager) GetRetrievalConfig() *domain.RetrievalConfig {
	return &m.config.Retrieval
}

// GetClassifierConfig returns classifier configuration
func (m *Manager) GetClassifierConfig() *domain.ClassifierConfig {
	return &m.config.Classifier
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration. A missing API key is not an error here;
// it is reported when an explanation is requested.
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Data.Dir == "" {
		return fmt.Errorf("data directory is required")
	}
	if config.Data.SimilarCasesK <= 0 {
		return fmt.Errorf("similar_cases_k must be positive: %d", config.Data.SimilarCasesK)
	}
	if config.Data.EvidenceTopK <= 0 {
		return fmt.Errorf("evidence_top_k must be positive: %d", config.Data.EvidenceTopK)
	}

	if config.LLM.BaseURL == "" {
		return fmt.Errorf("LLM base URL is required")
	}
	if config.LLM.Model == "" {
		return fmt.Errorf("LLM model is required")
	}
	for name, temp := range map[string]float64{
		"caregiver": config.LLM.CaregiverTemperature,
		"clinician": config.LLM.ClinicianTemperature,
	} {
		if temp < 0 || temp > 2 {
			return fmt.Errorf("invalid %s temperature: %v", name, temp)
		}
	}
	if config.LLM.CaregiverMaxTokens <= 0 || config.LLM.ClinicianMaxTokens <= 0 {
		return fmt.Errorf("token budgets must be positive")
	}

	if config.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval top_k must be positive: %d", config.Retrieval.TopK)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// HasCompletionCredential reports whether an API key is configured
func (m *Manager) HasCompletionCredential() bool {
	return strings.TrimSpace(m.config.LLM.APIKey) != ""
}
