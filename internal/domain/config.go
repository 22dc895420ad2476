package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Data       DataConfig       `mapstructure:"data"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	MCP        MCPConfig        `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	Filename string `mapstructure:"filename"`
}

// DataConfig locates the reference datasets. File names are relative to Dir.
type DataConfig struct {
	Dir                 string   `mapstructure:"dir"`
	CaseBatches         []string `mapstructure:"case_batches"`
	GuidelinesFile      string   `mapstructure:"guidelines_file"`
	SimilarCasesFile    string   `mapstructure:"similar_cases_file"`
	GlossaryFile        string   `mapstructure:"glossary_file"`
	ReferenceRangesFile string   `mapstructure:"reference_ranges_file"`
	SimilarCasesK       int      `mapstructure:"similar_cases_k"`
	AttributionMapTopK  int      `mapstructure:"attribution_map_top_k"`
	EvidenceTopK        int      `mapstructure:"evidence_top_k"`
}

// LLMConfig represents completion provider configuration
type LLMConfig struct {
	APIKey               string        `mapstructure:"api_key"`
	BaseURL              string        `mapstructure:"base_url"`
	Model                string        `mapstructure:"model"`
	CaregiverTemperature float64       `mapstructure:"caregiver_temperature"`
	CaregiverMaxTokens   int           `mapstructure:"caregiver_max_tokens"`
	ClinicianTemperature float64       `mapstructure:"clinician_temperature"`
	ClinicianMaxTokens   int           `mapstructure:"clinician_max_tokens"`
	Timeout              time.Duration `mapstructure:"timeout"`
	RateLimit            float64       `mapstructure:"rate_limit"`
	Burst                int           `mapstructure:"burst"`
}

// RetrievalConfig represents reference passage retrieval configuration
type RetrievalConfig struct {
	IndexDir        string        `mapstructure:"index_dir"`
	TopK            int           `mapstructure:"top_k"`
	CacheSize       int           `mapstructure:"cache_size"`
	MaxPassageChars int           `mapstructure:"max_passage_chars"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// ClassifierConfig locates the exported model artifacts
type ClassifierConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	ModelDir          string `mapstructure:"model_dir"`
	ModelFile         string `mapstructure:"model_file"`
	SharedLibraryPath string `mapstructure:"shared_library_path"`
	InputName         string `mapstructure:"input_name"`
	OutputName        string `mapstructure:"output_name"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
}
