package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type Neo4jConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type LLMConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
}

type EmbeddingConfig struct {
	CachePath string `toml:"cache_path"`
}

type CommunityConfig struct {
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	TopCommunities      int     `toml:"top_communities"`
	// RebuildEvery gates the full recompute: 1 rebuilds on every write,
	// N batches a rebuild per N writes.
	RebuildEvery int `toml:"rebuild_every"`
	MaxPasses    int `toml:"max_passes"`
}

type RetryConfig struct {
	MaxAttempts int `toml:"max_attempts"`
	BaseDelayMs int `toml:"base_delay_ms"`
	MaxDelayMs  int `toml:"max_delay_ms"`
}

// Prompts are the system/user template pairs for every text-generation
// call the engine makes. User templates are fmt format strings.
type Prompts struct {
	ConceptExtractionSystem string `toml:"concept_extraction_system"`
	ConceptExtraction       string `toml:"concept_extraction"`
	CommunitySummarySystem  string `toml:"community_summary_system"`
	CommunitySummary        string `toml:"community_summary"`
	PartialAnswerSystem     string `toml:"partial_answer_system"`
	PartialAnswer           string `toml:"partial_answer"`
	CombineAnswersSystem    string `toml:"combine_answers_system"`
	CombineAnswers          string `toml:"combine_answers"`
}

type Config struct {
	Neo4j     Neo4jConfig     `toml:"neo4j"`
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Community CommunityConfig `toml:"community"`
	Retry     RetryConfig     `toml:"retry"`
	Prompts   Prompts         `toml:"prompts"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a config with every tunable at its reference value.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.Neo4j.URI == "" {
		c.Neo4j.URI = "bolt://localhost:7687"
	}
	if c.Embedding.CachePath == "" {
		c.Embedding.CachePath = "embedding_cache/embeddings.json"
	}
	if c.Community.SimilarityThreshold == 0 {
		c.Community.SimilarityThreshold = 0.5
	}
	if c.Community.TopCommunities == 0 {
		c.Community.TopCommunities = 3
	}
	if c.Community.RebuildEvery == 0 {
		c.Community.RebuildEvery = 1
	}
	if c.Community.MaxPasses == 0 {
		c.Community.MaxPasses = 10
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelayMs == 0 {
		c.Retry.BaseDelayMs = 500
	}
	if c.Retry.MaxDelayMs == 0 {
		c.Retry.MaxDelayMs = 5000
	}
	c.Prompts.applyDefaults()
}

func (p *Prompts) applyDefaults() {
	if p.ConceptExtractionSystem == "" {
		p.ConceptExtractionSystem = "You are an expert in concept extraction. Respond with one concept per line and nothing else."
	}
	if p.ConceptExtraction == "" {
		p.ConceptExtraction = "Extract the key concepts from the following content:\n%s"
	}
	if p.CommunitySummarySystem == "" {
		p.CommunitySummarySystem = "You are an expert in knowledge consolidation. Summarize the provided material concisely."
	}
	if p.CommunitySummary == "" {
		p.CommunitySummary = "Summarize the following related knowledge into a short paragraph:\n%s"
	}
	if p.PartialAnswerSystem == "" {
		p.PartialAnswerSystem = "Answer the question using only the provided context."
	}
	if p.PartialAnswer == "" {
		p.PartialAnswer = "Context:\n%s\n\nQuestion: %s"
	}
	if p.CombineAnswersSystem == "" {
		p.CombineAnswersSystem = "Synthesize the partial answers into one coherent final answer."
	}
	if p.CombineAnswers == "" {
		p.CombineAnswers = "Partial answers:\n%s\n\nQuestion: %s"
	}
}
