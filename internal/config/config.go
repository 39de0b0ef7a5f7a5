package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Neo4j       Neo4jConfig      `mapstructure:"neo4j"`
	Kafka       KafkaConfig      `mapstructure:"kafka"`
	Auth        AuthConfig       `mapstructure:"auth"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Data        DataConfig       `mapstructure:"data"`
	Recommender RecommenderPaths `mapstructure:"recommender"`
	Training    TrainingConfig   `mapstructure:"training"`
	Security    SecurityConfig   `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MatrixTTL  time.Duration `mapstructure:"matrix_ttl"`
	TopNTTL    time.Duration `mapstructure:"top_n_ttl"`
	JobTTL     time.Duration `mapstructure:"job_ttl"`
}

type Neo4jConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topics  struct {
		Ratings      string `mapstructure:"ratings"`
		ModelTrained string `mapstructure:"model_trained"`
	} `mapstructure:"topics"`
	ConsumerGroup string `mapstructure:"consumer_group"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	// APIKeys maps an API key to the role its tokens carry.
	APIKeys map[string]string `mapstructure:"api_keys"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DataConfig selects where abstracts and ratings are read from.
type DataConfig struct {
	Source string `mapstructure:"source" validate:"oneof=postgres neo4j"`
	// StopWords drops common English stop words from abstracts.
	StopWords bool `mapstructure:"stop_words"`
}

type RecommenderPaths struct {
	ConfigPath string `mapstructure:"config_path"`
}

type TrainingConfig struct {
	// RetrainAfterRatings triggers a background retrain once this many
	// rating events have arrived since the last model. Zero disables it.
	RetrainAfterRatings int           `mapstructure:"retrain_after_ratings"`
	Timeout             time.Duration `mapstructure:"timeout"`
	OnStartup           bool          `mapstructure:"on_startup"`
}

type SecurityConfig struct {
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig caps public API requests per client IP in a sliding
// window. Zero requests disables the limit.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests" validate:"gte=0"`
	Window   time.Duration `mapstructure:"window"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "development")

	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_time", "15m")
	viper.SetDefault("database.max_lifetime", "1h")
	viper.SetDefault("database.connect_timeout", "10s")

	viper.SetDefault("redis.url", "localhost:6379")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.timeout", "5s")
	viper.SetDefault("redis.matrix_ttl", "168h")
	viper.SetDefault("redis.top_n_ttl", "15m")
	viper.SetDefault("redis.job_ttl", "24h")

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topics.ratings", "ratings")
	viper.SetDefault("kafka.topics.model_trained", "model-trained")
	viper.SetDefault("kafka.consumer_group", "hyprec-trainers")

	viper.SetDefault("auth.token_ttl", "24h")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	viper.SetDefault("data.source", "postgres")
	viper.SetDefault("data.stop_words", false)

	viper.SetDefault("recommender.config_path", "./config/recommender.json")

	viper.SetDefault("training.retrain_after_ratings", 500)
	viper.SetDefault("training.timeout", "30m")
	viper.SetDefault("training.on_startup", true)

	viper.SetDefault("security.cors.allowed_origins", []string{"*"})
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"*"})
	viper.SetDefault("security.rate_limit.requests", 600)
	viper.SetDefault("security.rate_limit.window", "1m")
}
