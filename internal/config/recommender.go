package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/temcen/hyprec/internal/validation"
)

const (
	ContentBasedNMF     = "NMF"
	ContentBasedLDA     = "LDA"
	ContentBasedLDA2Vec = "LDA2Vec"

	CollaborativeALS = "ALS"

	ErrorMetricRMSE   = "RMSE"
	ErrorMetricRecall = "recall"
)

// Hyperparameters are shared by every recommender built from one configuration.
type Hyperparameters struct {
	NFactors            int     `mapstructure:"n_factors" json:"n_factors" validate:"min=1"`
	Lambda              float64 `mapstructure:"_lambda" json:"_lambda" validate:"gte=0"`
	EmbeddingWeight     float64 `mapstructure:"embedding_weight" json:"embedding_weight" validate:"gte=0,lte=1"`
	EmbeddingDimensions int     `mapstructure:"embedding_dimensions" json:"embedding_dimensions" validate:"min=1"`
}

type Options struct {
	NIterations      int     `mapstructure:"n_iterations" json:"n_iterations" validate:"min=1"`
	KFolds           int     `mapstructure:"k_folds" json:"k_folds" validate:"min=2"`
	TestPercentage   float64 `mapstructure:"test_percentage" json:"test_percentage" validate:"gt=0,lt=1"`
	NRecommendations int     `mapstructure:"n_recommendations" json:"n_recommendations" validate:"min=1"`
	RandomSeed       int64   `mapstructure:"random_seed" json:"random_seed"`
	LoadMatrices     bool    `mapstructure:"load_matrices" json:"load_matrices"`
}

// RecommenderConfig is the "recommender" section of recommender.json.
type RecommenderConfig struct {
	ContentBased           string          `mapstructure:"content-based" json:"content-based" validate:"oneof=NMF LDA LDA2Vec"`
	CollaborativeFiltering string          `mapstructure:"collaborative-filtering" json:"collaborative-filtering" validate:"oneof=ALS"`
	ErrorMetric            string          `mapstructure:"error-metric" json:"error-metric" validate:"oneof=RMSE recall"`
	Hyperparameters        Hyperparameters `mapstructure:"hyperparameters" json:"hyperparameters"`
	Options                Options         `mapstructure:"options" json:"options"`

	// ConfigDict is the section as it appeared in the file, before defaults.
	ConfigDict map[string]interface{} `mapstructure:"-" json:"-"`
}

type recommenderFile struct {
	Recommender RecommenderConfig `mapstructure:"recommender"`
}

func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		NFactors:            5,
		Lambda:              0.01,
		EmbeddingWeight:     0.5,
		EmbeddingDimensions: 10,
	}
}

func DefaultOptions() Options {
	return Options{
		NIterations:      5,
		KFolds:           5,
		TestPercentage:   0.2,
		NRecommendations: 5,
		RandomSeed:       42,
	}
}

// DefaultRecommenderConfig is what an empty recommender section resolves to.
func DefaultRecommenderConfig() *RecommenderConfig {
	return &RecommenderConfig{
		ContentBased:           ContentBasedLDA,
		CollaborativeFiltering: CollaborativeALS,
		ErrorMetric:            ErrorMetricRMSE,
		Hyperparameters:        DefaultHyperparameters(),
		Options:                DefaultOptions(),
		ConfigDict:             map[string]interface{}{},
	}
}

// LoadRecommenderConfig reads, schema-checks and decodes recommender.json.
// Values may be overridden with HYPREC_RECOMMENDER_* environment variables.
func LoadRecommenderConfig(path string) (*RecommenderConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recommender config %s: %w", path, err)
	}
	return ParseRecommenderConfig(raw)
}

func ParseRecommenderConfig(raw []byte) (*RecommenderConfig, error) {
	schemaValidator, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	if err := schemaValidator.ValidateRecommenderConfig(raw).Err(); err != nil {
		return nil, fmt.Errorf("recommender config does not match schema: %w", err)
	}

	var document map[string]interface{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("failed to decode recommender config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	setRecommenderDefaults(v)
	v.SetEnvPrefix("hyprec")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to read recommender config: %w", err)
	}

	var file recommenderFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recommender config: %w", err)
	}

	cfg := file.Recommender
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid recommender config: %w", err)
	}

	cfg.ConfigDict, _ = document["recommender"].(map[string]interface{})
	return &cfg, nil
}

func setRecommenderDefaults(v *viper.Viper) {
	defaults := DefaultRecommenderConfig()

	v.SetDefault("recommender.content-based", defaults.ContentBased)
	v.SetDefault("recommender.collaborative-filtering", defaults.CollaborativeFiltering)
	v.SetDefault("recommender.error-metric", defaults.ErrorMetric)

	v.SetDefault("recommender.hyperparameters.n_factors", defaults.Hyperparameters.NFactors)
	v.SetDefault("recommender.hyperparameters._lambda", defaults.Hyperparameters.Lambda)
	v.SetDefault("recommender.hyperparameters.embedding_weight", defaults.Hyperparameters.EmbeddingWeight)
	v.SetDefault("recommender.hyperparameters.embedding_dimensions", defaults.Hyperparameters.EmbeddingDimensions)

	v.SetDefault("recommender.options.n_iterations", defaults.Options.NIterations)
	v.SetDefault("recommender.options.k_folds", defaults.Options.KFolds)
	v.SetDefault("recommender.options.test_percentage", defaults.Options.TestPercentage)
	v.SetDefault("recommender.options.n_recommendations", defaults.Options.NRecommendations)
	v.SetDefault("recommender.options.random_seed", defaults.Options.RandomSeed)
	v.SetDefault("recommender.options.load_matrices", defaults.Options.LoadMatrices)
}

// HyperparametersMap returns the hyperparameters keyed as in recommender.json.
func (c *RecommenderConfig) HyperparametersMap() map[string]interface{} {
	return map[string]interface{}{
		"n_factors":            c.Hyperparameters.NFactors,
		"_lambda":              c.Hyperparameters.Lambda,
		"embedding_weight":     c.Hyperparameters.EmbeddingWeight,
		"embedding_dimensions": c.Hyperparameters.EmbeddingDimensions,
	}
}
