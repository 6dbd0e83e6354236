package config

import (
	_ "embed"
	"os"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Pipeline   PipelineConfig
	Recognizer RecognizerConfig
	Database   DatabaseConfig
	Auth       AuthConfig
	AI         AIConfig
}

// PipelineConfig collects every pipeline tunable in one place. Defaults come
// from the embedded defaults.yaml; each field can be overridden by env var.
type PipelineConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MinDetConfidence    float64 `yaml:"min_det_confidence"`
	QualityFloor        float64 `yaml:"quality_floor"`
	MaxDimension        int     `yaml:"max_dimension"`
	TargetFileSizeMB    float64 `yaml:"target_file_size_mb"`
	JPEGQualityFloor    int     `yaml:"jpeg_quality_floor"`
	EmbeddingDim        int     `yaml:"embedding_dim"`
	DuplicateThreshold  float64 `yaml:"duplicate_threshold"`
	Concurrency         int     `yaml:"-"` // defaults to NumCPU, env only
}

type RecognizerConfig struct {
	URL string // face embedding server, defaults to http://localhost:8000
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL; empty = in-memory sessions
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type AuthConfig struct {
	Secret      string // HMAC secret for signed bearer tokens
	TrustHeader bool   // trust X-User-ID from an upstream gateway
}

type AIConfig struct {
	Provider     string // "gemini" or "openai"; empty disables summaries
	GeminiAPIKey string
	OpenAIToken  string
}

type defaultsFile struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envBool(key string) bool {
	s := os.Getenv(key)
	return s == "1" || s == "true" || s == "yes"
}

func Load() *Config {
	var defaults defaultsFile
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		// Embedded file, so this can only fail on a bad edit.
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	p := defaults.Pipeline

	return &Config{
		Pipeline: PipelineConfig{
			SimilarityThreshold: envFloat("SIMILARITY_THRESHOLD", p.SimilarityThreshold),
			MinDetConfidence:    envFloat("MIN_DET_CONFIDENCE", p.MinDetConfidence),
			QualityFloor:        envFloat("QUALITY_FLOOR", p.QualityFloor),
			MaxDimension:        envInt("MAX_DIMENSION", p.MaxDimension),
			TargetFileSizeMB:    envFloat("TARGET_FILE_SIZE_MB", p.TargetFileSizeMB),
			JPEGQualityFloor:    envInt("JPEG_QUALITY_FLOOR", p.JPEGQualityFloor),
			EmbeddingDim:        envInt("EMBEDDING_DIM", p.EmbeddingDim),
			DuplicateThreshold:  envFloat("DUPLICATE_THRESHOLD", p.DuplicateThreshold),
			Concurrency:         envInt("PIPELINE_CONCURRENCY", runtime.NumCPU()),
		},
		Recognizer: RecognizerConfig{
			URL: os.Getenv("RECOGNIZER_URL"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Auth: AuthConfig{
			Secret:      os.Getenv("AUTH_SECRET"),
			TrustHeader: envBool("AUTH_TRUST_HEADER"),
		},
		AI: AIConfig{
			Provider:     os.Getenv("AI_PROVIDER"),
			GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
			OpenAIToken:  os.Getenv("OPENAI_TOKEN"),
		},
	}
}
