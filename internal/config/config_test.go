package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"NEWSCLF_CONFIG", "LOG_LEVEL", "LOG_FORMAT", "API_BIND_ADDR", "ARTIFACTS_DIR",
		"DATA_CLEANED", "KAFKA_BROKERS", "KAFKA_INPUT_TOPIC", "KAFKA_OUTPUT_TOPIC",
		"KAFKA_CONSUMER_GROUP", "TRAINING_RANDOM_STATE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "newsclf.yaml")
	configData := `
data:
  sources:
    - path: data/Fake.csv
      label: fake
    - path: data/True.csv
      label: real
  cleaned: out/cleaned.csv
features:
  max_features: 2000
  ngram_max: 1
models:
  candidates: [logistic_regression, decision_tree]
  logistic_regression:
    c: 4
  gradient_boosting:
    learning_rate: 0.05
server:
  bind_addr: "127.0.0.1:9000"
  read_timeout: 3s
kafka:
  brokers: ["k1:9092", "k2:9092"]
`
	require.NoError(t, os.WriteFile(configPath, []byte(configData), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Len(t, cfg.Data.Sources, 2)
	assert.Equal(t, "real", cfg.Data.Sources[1].Label)
	assert.Equal(t, "out/cleaned.csv", cfg.Data.Cleaned)
	assert.Equal(t, 2000, cfg.Features.MaxFeatures)
	assert.Equal(t, 1, cfg.Features.NgramMax)
	assert.Equal(t, 2, cfg.Features.MinDF)
	assert.Equal(t, []string{LogisticRegression, DecisionTree}, cfg.Models.Candidates)
	assert.Equal(t, 4.0, cfg.Models.LogisticRegression.C)
	assert.Equal(t, 0.05, cfg.Models.GradientBoosting.LearningRate)
	assert.Equal(t, 100, cfg.Models.GradientBoosting.NEstimators)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.BindAddr)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "news_articles_dlq", cfg.Kafka.DLQTopic())
	assert.Empty(t, cfg.Validate())
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCandidates, cfg.Models.Candidates)
	assert.Equal(t, "artifacts", cfg.Artifacts.Dir)
	assert.Equal(t, 0.2, cfg.Training.TestSize)
	assert.Equal(t, int64(42), cfg.Training.RandomState)
	assert.Empty(t, cfg.Validate())
}

func TestLoadKeepsZeroRandomState(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	zero := filepath.Join(dir, "zero.yaml")
	require.NoError(t, os.WriteFile(zero, []byte("training:\n  random_state: 0\n"), 0o644))
	cfg, err := Load(zero)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cfg.Training.RandomState)

	omitted := filepath.Join(dir, "omitted.yaml")
	require.NoError(t, os.WriteFile(omitted, []byte("training:\n  test_size: 0.3\n"), 0o644))
	cfg, err = Load(omitted)
	require.NoError(t, err)
	assert.Equal(t, DefaultRandomState, cfg.Training.RandomState)
	assert.Equal(t, 0.3, cfg.Training.TestSize)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("API_BIND_ADDR", "0.0.0.0:8081")
	t.Setenv("ARTIFACTS_DIR", "/tmp/newsclf")
	t.Setenv("KAFKA_BROKERS", " a:1 , b:2 ,")

	cfg := Default()
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "0.0.0.0:8081", cfg.Server.BindAddr)
	assert.Equal(t, "/tmp/newsclf", cfg.Artifacts.Dir)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("features: [unclosed"), 0644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name   string
		mutate func(c *Config)
		fields []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "bad source",
			mutate: func(c *Config) {
				c.Data.Sources = []SourceConfig{{Label: "satire"}}
			},
			fields: []string{"data.sources[0].path", "data.sources[0].label"},
		},
		{
			name: "unknown and duplicate candidates",
			mutate: func(c *Config) {
				c.Models.Candidates = []string{"svm", DecisionTree, DecisionTree}
			},
			fields: []string{"models.candidates", "models.candidates"},
		},
		{
			name: "bad split and features",
			mutate: func(c *Config) {
				c.Training.TestSize = 1
				c.Features.MaxDF = 1.5
				c.Features.Norm = "l3"
			},
			fields: []string{"features.max_df", "features.norm", "training.test_size"},
		},
		{
			name: "bad server and logging",
			mutate: func(c *Config) {
				c.Server.BindAddr = "nowhere"
				c.Logging.Level = "verbose"
				c.Kafka.OutputTopic = c.Kafka.InputTopic
			},
			fields: []string{"server.bind_addr", "kafka.output_topic", "logging.level"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			var fields []string
			for _, e := range errs {
				fields = append(fields, e.Field)
				assert.NotEmpty(t, e.Error())
			}
			assert.Equal(t, tt.fields, fields)
		})
	}
}
