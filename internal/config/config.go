// Package config loads the newsclf configuration from YAML, fills defaults
// and applies environment overrides.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Candidate names, in the order used to break accuracy ties.
const (
	RandomForest       = "random_forest"
	LogisticRegression = "logistic_regression"
	DecisionTree       = "decision_tree"
	GradientBoosting   = "gradient_boosting"
)

// DefaultCandidates lists every supported classifier.
var DefaultCandidates = []string{RandomForest, LogisticRegression, DecisionTree, GradientBoosting}

// Config is the complete newsclf configuration.
type Config struct {
	Data      DataConfig      `yaml:"data"`
	Features  FeaturesConfig  `yaml:"features"`
	Models    ModelsConfig    `yaml:"models"`
	Training  TrainingConfig  `yaml:"training"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Server    ServerConfig    `yaml:"server"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SourceConfig is one raw CSV. Label fixes the label of every row ("fake" or
// "real"); when empty the file must carry a label column.
type SourceConfig struct {
	Path  string `yaml:"path"`
	Label string `yaml:"label"`
}

// DataConfig describes the raw inputs and the cleaned dataset.
type DataConfig struct {
	Sources []SourceConfig `yaml:"sources"`
	Cleaned string         `yaml:"cleaned"`
	// KeepPublisher disables stripping "CITY (Reuters) - " style prefixes.
	KeepPublisher bool `yaml:"keep_publisher"`
}

// FeaturesConfig holds the TF-IDF settings.
type FeaturesConfig struct {
	MaxFeatures int     `yaml:"max_features"`
	MinDF       int     `yaml:"min_df"`
	MaxDF       float64 `yaml:"max_df"`
	NgramMin    int     `yaml:"ngram_min"`
	NgramMax    int     `yaml:"ngram_max"`
	SublinearTF bool    `yaml:"sublinear_tf"`
	StopWords   string  `yaml:"stop_words"` // "english" or "none"
	Norm        string  `yaml:"norm"`
}

// ModelsConfig selects the candidates and their hyperparameters.
type ModelsConfig struct {
	Candidates         []string                 `yaml:"candidates"`
	LogisticRegression LogisticRegressionConfig `yaml:"logistic_regression"`
	RandomForest       RandomForestConfig       `yaml:"random_forest"`
	DecisionTree       DecisionTreeConfig       `yaml:"decision_tree"`
	GradientBoosting   GradientBoostingConfig   `yaml:"gradient_boosting"`
}

type LogisticRegressionConfig struct {
	C           float64 `yaml:"c"`
	MaxIter     int     `yaml:"max_iter"`
	Solver      string  `yaml:"solver"`
	ClassWeight string  `yaml:"class_weight"`
}

type RandomForestConfig struct {
	NEstimators    int    `yaml:"n_estimators"`
	MaxDepth       int    `yaml:"max_depth"`
	MaxFeatures    string `yaml:"max_features"`
	MinSamplesLeaf int    `yaml:"min_samples_leaf"`
	NJobs          int    `yaml:"n_jobs"`
}

type DecisionTreeConfig struct {
	Criterion      string `yaml:"criterion"`
	MaxDepth       int    `yaml:"max_depth"`
	MinSamplesLeaf int    `yaml:"min_samples_leaf"`
}

type GradientBoostingConfig struct {
	NEstimators  int     `yaml:"n_estimators"`
	LearningRate float64 `yaml:"learning_rate"`
	MaxDepth     int     `yaml:"max_depth"`
	Subsample    float64 `yaml:"subsample"`
}

// DefaultRandomState seeds the split and the models when random_state is
// not set. 0 is a valid seed.
const DefaultRandomState int64 = 42

// TrainingConfig controls the held-out split.
type TrainingConfig struct {
	TestSize    float64 `yaml:"test_size"`
	RandomState int64   `yaml:"random_state"`
}

// ArtifactsConfig locates the training outputs.
type ArtifactsConfig struct {
	Dir   string `yaml:"dir"`
	Chart string `yaml:"chart"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	BindAddr         string        `yaml:"bind_addr"`
	StaticDir        string        `yaml:"static_dir"`
	EnableURLPredict bool          `yaml:"enable_url_predict"`
	DisableWatch     bool          `yaml:"disable_watch"`
	RateLimit        float64       `yaml:"rate_limit"` // requests per second, whole server
	RateBurst        int           `yaml:"rate_burst"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// ScraperConfig configures article fetching.
type ScraperConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	UserAgent string        `yaml:"user_agent"`
	MaxBytes  int64         `yaml:"max_bytes"`
}

// KafkaConfig configures the streaming worker.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	InputTopic  string   `yaml:"input_topic"`
	OutputTopic string   `yaml:"output_topic"`
	GroupID     string   `yaml:"group_id"`
	DLQRetries  int      `yaml:"dlq_retries"`
}

// DLQTopic is where undecodable or invalid input messages are parked.
func (k KafkaConfig) DLQTopic() string { return k.InputTopic + "_dlq" }

// LoggingConfig selects level and format of pkg/log.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := newConfig()
	applyDefaults(c)
	mergeWithEnv(c)
	return c
}

// Load reads path, or NEWSCLF_CONFIG, or the first of newsclf.yaml and
// config.yaml found in the working directory. Without any file the defaults
// are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("NEWSCLF_CONFIG")
	}
	if path == "" {
		for _, loc := range []string{"newsclf.yaml", "newsclf.yml", "config.yaml"} {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	c := newConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	applyDefaults(c)
	mergeWithEnv(c)
	return c, nil
}

// newConfig presets the fields whose zero value is a valid setting, so a
// key left out of the file and an explicit zero stay distinguishable.
func newConfig() *Config {
	return &Config{Training: TrainingConfig{RandomState: DefaultRandomState}}
}

func applyDefaults(c *Config) {
	if c.Data.Cleaned == "" {
		c.Data.Cleaned = "data/cleaned.csv"
	}

	f := &c.Features
	if f.MaxFeatures == 0 {
		f.MaxFeatures = 5000
	}
	if f.MinDF == 0 {
		f.MinDF = 2
	}
	if f.MaxDF == 0 {
		f.MaxDF = 0.95
	}
	if f.NgramMin == 0 {
		f.NgramMin = 1
	}
	if f.NgramMax == 0 {
		f.NgramMax = 2
	}
	if f.StopWords == "" {
		f.StopWords = "english"
	}
	if f.Norm == "" {
		f.Norm = "l2"
	}

	m := &c.Models
	if len(m.Candidates) == 0 {
		m.Candidates = append([]string(nil), DefaultCandidates...)
	}
	if m.LogisticRegression.C == 0 {
		m.LogisticRegression.C = 1
	}
	if m.LogisticRegression.MaxIter == 0 {
		m.LogisticRegression.MaxIter = 1000
	}
	if m.LogisticRegression.Solver == "" {
		m.LogisticRegression.Solver = "lbfgs"
	}
	if m.LogisticRegression.ClassWeight == "" {
		m.LogisticRegression.ClassWeight = "none"
	}
	if m.RandomForest.NEstimators == 0 {
		m.RandomForest.NEstimators = 100
	}
	if m.RandomForest.MaxFeatures == "" {
		m.RandomForest.MaxFeatures = "sqrt"
	}
	if m.RandomForest.MinSamplesLeaf == 0 {
		m.RandomForest.MinSamplesLeaf = 1
	}
	if m.DecisionTree.Criterion == "" {
		m.DecisionTree.Criterion = "gini"
	}
	if m.DecisionTree.MinSamplesLeaf == 0 {
		m.DecisionTree.MinSamplesLeaf = 1
	}
	if m.GradientBoosting.NEstimators == 0 {
		m.GradientBoosting.NEstimators = 100
	}
	if m.GradientBoosting.LearningRate == 0 {
		m.GradientBoosting.LearningRate = 0.1
	}
	if m.GradientBoosting.MaxDepth == 0 {
		m.GradientBoosting.MaxDepth = 3
	}
	if m.GradientBoosting.Subsample == 0 {
		m.GradientBoosting.Subsample = 1
	}

	if c.Training.TestSize == 0 {
		c.Training.TestSize = 0.2
	}

	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = "artifacts"
	}
	if c.Artifacts.Chart == "" {
		c.Artifacts.Chart = "model_comparison.png"
	}

	s := &c.Server
	if s.BindAddr == "" {
		s.BindAddr = "0.0.0.0:8000"
	}
	if s.RateLimit == 0 {
		s.RateLimit = 50
	}
	if s.RateBurst == 0 {
		s.RateBurst = 100
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = 1 << 20
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 10 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 15 * time.Second
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 10 * time.Second
	}

	if c.Scraper.Timeout == 0 {
		c.Scraper.Timeout = 15 * time.Second
	}
	if c.Scraper.RateLimit == 0 {
		c.Scraper.RateLimit = 1
	}
	if c.Scraper.UserAgent == "" {
		c.Scraper.UserAgent = "newsclf/1.0 (+https://github.com/YuminosukeSato/newsclf)"
	}
	if c.Scraper.MaxBytes == 0 {
		c.Scraper.MaxBytes = 2 << 20
	}

	k := &c.Kafka
	if len(k.Brokers) == 0 {
		k.Brokers = []string{"localhost:9092"}
	}
	if k.InputTopic == "" {
		k.InputTopic = "news_articles"
	}
	if k.OutputTopic == "" {
		k.OutputTopic = "news_classified"
	}
	if k.GroupID == "" {
		k.GroupID = "newsclf-worker"
	}
	if k.DLQRetries == 0 {
		k.DLQRetries = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

func mergeWithEnv(c *Config) {
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Server.BindAddr = getEnv("API_BIND_ADDR", c.Server.BindAddr)
	c.Artifacts.Dir = getEnv("ARTIFACTS_DIR", c.Artifacts.Dir)
	c.Data.Cleaned = getEnv("DATA_CLEANED", c.Data.Cleaned)
	if brokers := splitAndTrim(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		c.Kafka.Brokers = brokers
	}
	c.Kafka.InputTopic = getEnv("KAFKA_INPUT_TOPIC", c.Kafka.InputTopic)
	c.Kafka.OutputTopic = getEnv("KAFKA_OUTPUT_TOPIC", c.Kafka.OutputTopic)
	c.Kafka.GroupID = getEnv("KAFKA_CONSUMER_GROUP", c.Kafka.GroupID)
	c.Training.RandomState = getInt64("TRAINING_RANDOM_STATE", c.Training.RandomState)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
