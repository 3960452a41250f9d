// Package config loads engine configuration from YAML with sane defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/entities"
)

// Duration is a time.Duration that decodes from YAML strings like "1500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// QueryDefaults is the app-level retrieval/generation parameter block.
// Per-conversation overrides take precedence at resolution time.
type QueryDefaults struct {
	TopK               int     `yaml:"top_k"`
	Temperature        float64 `yaml:"temperature"`
	RetrievalMode      string  `yaml:"retrieval_mode"`
	VectorWeight       float64 `yaml:"vector_weight"`
	KeywordWeight      float64 `yaml:"keyword_weight"`
	BM25K1             float64 `yaml:"bm25_k1"`
	BM25B              float64 `yaml:"bm25_b"`
	ScoreThreshold     float64 `yaml:"score_threshold"`
	MaxContextChars    int     `yaml:"max_context_chars"`
	Model              string  `yaml:"model"`
	Provider           string  `yaml:"provider"`
	UseStructureSearch bool    `yaml:"use_structure_search"`
	UseMMR             bool    `yaml:"use_mmr"`
	MMRDiversity       float64 `yaml:"mmr_diversity"`
	UseSelfCheck       bool    `yaml:"use_self_check"`
	IncludeHistory     bool    `yaml:"include_history"`
	HistoryLimit       int     `yaml:"history_limit"`
}

// Config is the full engine configuration.
type Config struct {
	ServiceURL     string        `yaml:"service_url"`
	RequestTimeout Duration      `yaml:"request_timeout"`
	PollInterval   Duration      `yaml:"poll_interval"`
	LogMode        string        `yaml:"log_mode"`
	DataDir        string        `yaml:"data_dir"`
	Query          QueryDefaults `yaml:"query"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		ServiceURL:     "http://localhost:8000/api",
		RequestTimeout: Duration(60 * time.Second),
		PollInterval:   Duration(1500 * time.Millisecond),
		LogMode:        "dev",
		DataDir:        "./data",
		Query: QueryDefaults{
			TopK:            5,
			Temperature:     0.7,
			RetrievalMode:   "hybrid",
			VectorWeight:    0.7,
			KeywordWeight:   0.3,
			BM25K1:          1.5,
			BM25B:           0.75,
			ScoreThreshold:  0.0,
			MaxContextChars: 8000,
			IncludeHistory:  true,
			HistoryLimit:    10,
		},
	}
}

// Load reads configuration from path, merged over Default. An empty path
// returns the defaults. RAGCHAT_SERVICE_URL overrides the service URL either
// way.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if url := os.Getenv("RAGCHAT_SERVICE_URL"); url != "" {
		cfg.ServiceURL = url
	}

	return cfg, nil
}

// QueryOptions converts the config block into the entity carried on requests.
func (c *Config) QueryOptions() entities.QueryOptions {
	q := c.Query
	return entities.QueryOptions{
		TopK:               q.TopK,
		Temperature:        q.Temperature,
		RetrievalMode:      q.RetrievalMode,
		VectorWeight:       q.VectorWeight,
		KeywordWeight:      q.KeywordWeight,
		BM25K1:             q.BM25K1,
		BM25B:              q.BM25B,
		ScoreThreshold:     q.ScoreThreshold,
		MaxContextChars:    q.MaxContextChars,
		Model:              q.Model,
		Provider:           q.Provider,
		UseStructureSearch: q.UseStructureSearch,
		UseMMR:             q.UseMMR,
		MMRDiversity:       q.MMRDiversity,
		UseSelfCheck:       q.UseSelfCheck,
		IncludeHistory:     q.IncludeHistory,
		HistoryLimit:       q.HistoryLimit,
	}
}
