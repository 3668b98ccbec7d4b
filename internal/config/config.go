package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "GREENLOOP"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "greenloop.db"
	defaultLogLevel      = "info"
	defaultTokenTTLMin   = 60
	defaultCreditPerGram = 0.1
	defaultWateringCost  = 10
	defaultGeminiModel   = "gemini-2.0-flash"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	TokenTTL      time.Duration

	// CreditPerGram converts grams of CO2 saved into points; WateringCost
	// is the ledger price of one garden watering.
	CreditPerGram float64
	WateringCost  int64

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GeminiAPIKey   string
	GeminiModel    string
	SearchAPIKey   string
	SearchEngineID string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMin)
	configViper.SetDefault("credits.per_gram", defaultCreditPerGram)
	configViper.SetDefault("garden.watering_cost", defaultWateringCost)
	configViper.SetDefault("redis.addr", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("gemini.model", defaultGeminiModel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		CreditPerGram:  configViper.GetFloat64("credits.per_gram"),
		WateringCost:   configViper.GetInt64("garden.watering_cost"),
		RedisAddr:      configViper.GetString("redis.addr"),
		RedisPassword:  configViper.GetString("redis.password"),
		RedisDB:        configViper.GetInt("redis.db"),
		GeminiAPIKey:   configViper.GetString("gemini.api_key"),
		GeminiModel:    configViper.GetString("gemini.model"),
		SearchAPIKey:   configViper.GetString("search.api_key"),
		SearchEngineID: configViper.GetString("search.engine_id"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.CreditPerGram < 0 {
		return fmt.Errorf("credits.per_gram must not be negative")
	}
	if c.WateringCost <= 0 {
		return fmt.Errorf("garden.watering_cost must be positive")
	}
	return nil
}
