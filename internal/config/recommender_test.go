package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecommenderConfig(t *testing.T) {
	t.Run("explicit values", func(t *testing.T) {
		raw := []byte(`{"recommender": {
			"content-based": "NMF",
			"collaborative-filtering": "ALS",
			"error-metric": "recall",
			"hyperparameters": {"n_factors": 7, "_lambda": 0.5},
			"options": {"n_iterations": 3, "random_seed": 9}
		}}`)

		cfg, err := ParseRecommenderConfig(raw)
		require.NoError(t, err)

		assert.Equal(t, ContentBasedNMF, cfg.ContentBased)
		assert.Equal(t, ErrorMetricRecall, cfg.ErrorMetric)
		assert.Equal(t, 7, cfg.Hyperparameters.NFactors)
		assert.Equal(t, 0.5, cfg.Hyperparameters.Lambda)
		assert.Equal(t, 3, cfg.Options.NIterations)
		assert.Equal(t, int64(9), cfg.Options.RandomSeed)

		// Unset keys fall back to defaults
		assert.Equal(t, 0.5, cfg.Hyperparameters.EmbeddingWeight)
		assert.Equal(t, 10, cfg.Hyperparameters.EmbeddingDimensions)
		assert.Equal(t, 0.2, cfg.Options.TestPercentage)
	})

	t.Run("config dict keeps the file as written", func(t *testing.T) {
		raw := []byte(`{"recommender": {
			"hyperparameters": {"n_factors": 4},
			"options": {"n_iterations": 2}
		}}`)

		cfg, err := ParseRecommenderConfig(raw)
		require.NoError(t, err)

		hyper, ok := cfg.ConfigDict["hyperparameters"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(4), hyper["n_factors"])
		assert.NotContains(t, cfg.ConfigDict, "content-based")
		assert.Equal(t, ContentBasedLDA, cfg.ContentBased)
	})

	t.Run("schema violation", func(t *testing.T) {
		_, err := ParseRecommenderConfig([]byte(`{"recommender": {"options": {"n_iterations": 2}}}`))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "schema")
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv("HYPREC_RECOMMENDER_HYPERPARAMETERS_N_FACTORS", "11")

		cfg, err := ParseRecommenderConfig([]byte(`{"recommender": {
			"hyperparameters": {"n_factors": 4},
			"options": {"n_iterations": 2}
		}}`))
		require.NoError(t, err)
		assert.Equal(t, 11, cfg.Hyperparameters.NFactors)
	})
}

func TestLoadRecommenderConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recommender.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"recommender": {
		"content-based": "LDA2Vec",
		"hyperparameters": {"n_factors": 5, "embedding_dimensions": 3},
		"options": {"n_iterations": 5}
	}}`), 0o644))

	cfg, err := LoadRecommenderConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ContentBasedLDA2Vec, cfg.ContentBased)
	assert.Equal(t, 3, cfg.Hyperparameters.EmbeddingDimensions)
	assert.Equal(t, map[string]interface{}{
		"n_factors":            5,
		"_lambda":              0.01,
		"embedding_weight":     0.5,
		"embedding_dimensions": 3,
	}, cfg.HyperparametersMap())

	_, err = LoadRecommenderConfig(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestRepositoryRecommenderConfig(t *testing.T) {
	cfg, err := LoadRecommenderConfig(filepath.Join("..", "..", "config", "recommender.json"))
	require.NoError(t, err)

	hyper, ok := cfg.ConfigDict["hyperparameters"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(cfg.Hyperparameters.NFactors), hyper["n_factors"])
	assert.Equal(t, ContentBasedLDA2Vec, cfg.ContentBased)
}
