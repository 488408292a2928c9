package config

import (
	"fmt"
	"net"
	"strconv"

	"github.com/YuminosukeSato/newsclf/pkg/log"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate reports every invalid setting. An empty result means the
// configuration is usable.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	for i, src := range c.Data.Sources {
		field := fmt.Sprintf("data.sources[%d]", i)
		if src.Path == "" {
			add(field+".path", "path is required")
		}
		switch src.Label {
		case "", "fake", "real":
		default:
			add(field+".label", "label must be fake, real or empty, got %q", src.Label)
		}
	}

	f := c.Features
	if f.MaxFeatures < 0 {
		add("features.max_features", "max_features cannot be negative")
	}
	if f.MinDF < 1 {
		add("features.min_df", "min_df must be at least 1")
	}
	if f.MaxDF <= 0 || f.MaxDF > 1 {
		add("features.max_df", "max_df must be in (0, 1]")
	}
	if f.NgramMin < 1 || f.NgramMax < f.NgramMin {
		add("features.ngram_max", "ngram range must satisfy 1 <= ngram_min <= ngram_max")
	}
	if f.StopWords != "english" && f.StopWords != "none" {
		add("features.stop_words", "stop_words must be english or none")
	}
	switch f.Norm {
	case "l1", "l2", "max", "none":
	default:
		add("features.norm", "norm must be l1, l2, max or none")
	}

	seen := map[string]bool{}
	for _, name := range c.Models.Candidates {
		if !isCandidate(name) {
			add("models.candidates", "unknown candidate %q", name)
		}
		if seen[name] {
			add("models.candidates", "duplicate candidate %q", name)
		}
		seen[name] = true
	}
	if c.Models.LogisticRegression.C <= 0 {
		add("models.logistic_regression.c", "c must be positive")
	}
	if c.Models.RandomForest.NEstimators < 1 {
		add("models.random_forest.n_estimators", "n_estimators must be positive")
	}
	if c.Models.GradientBoosting.NEstimators < 1 {
		add("models.gradient_boosting.n_estimators", "n_estimators must be positive")
	}
	if lr := c.Models.GradientBoosting.LearningRate; lr <= 0 {
		add("models.gradient_boosting.learning_rate", "learning_rate must be positive")
	}
	if s := c.Models.GradientBoosting.Subsample; s <= 0 || s > 1 {
		add("models.gradient_boosting.subsample", "subsample must be in (0, 1]")
	}

	if ts := c.Training.TestSize; ts <= 0 || ts >= 1 {
		add("training.test_size", "test_size must be in (0, 1)")
	}

	if _, port, err := net.SplitHostPort(c.Server.BindAddr); err != nil {
		add("server.bind_addr", "invalid address %q", c.Server.BindAddr)
	} else if _, err := strconv.Atoi(port); err != nil {
		add("server.bind_addr", "invalid port %q", port)
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "rate_limit cannot be negative")
	}
	if c.Scraper.RateLimit <= 0 {
		add("scraper.rate_limit", "rate_limit must be positive")
	}

	if len(c.Kafka.Brokers) == 0 {
		add("kafka.brokers", "at least one broker is required")
	}
	if c.Kafka.InputTopic == c.Kafka.OutputTopic {
		add("kafka.output_topic", "output_topic must differ from input_topic")
	}

	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case log.FormatConsole, log.FormatJSON, log.FormatCloud:
	default:
		add("logging.format", "format must be console, json or cloud")
	}

	return errs
}

func isCandidate(name string) bool {
	for _, c := range DefaultCandidates {
		if c == name {
			return true
		}
	}
	return false
}
