package domain

import (
	"context"
)

// ClassifierProvider produces a severity tier and optional attribution for a feature vector
type ClassifierProvider interface {
	Loaded() bool
	Predict(ctx context.Context, features FeatureVector) (*ClassifierOutput, error)
	ModelInfo() ModelInfo
}

// CompletionProvider performs one text completion call
type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ContextRetriever fetches reference passages relevant to an evidence structure
type ContextRetriever interface {
	// Available reports whether indexDir can be searched at all.
	Available(indexDir string) bool
	Retrieve(ctx context.Context, indexDir string, evidence *EvidenceStructure, k int) ([]Passage, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetDataConfig() *DataConfig
	GetLLMConfig() *LLMConfig
	GetRetrievalConfig() *RetrievalConfig
	GetClassifierConfig() *ClassifierConfig
	Reload() error
	Validate() error
}
