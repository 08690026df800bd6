package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	DataDir       string `validate:"required"`
	DBPath        string `validate:"required"`
	NorthwindPath string `validate:"required"`
	DocsDir       string `validate:"required"`
	PlannerScript string
	RetrievalK    int           `validate:"min=1,max=50"`
	QueryTimeout  time.Duration `validate:"gt=0"`
	ReadOnlyDB    bool

	LLM LLMConfig

	LogLevel string `validate:"oneof=debug info warn error"`
	LogFile  string
	LogJSON  bool

	ServeAddr string `validate:"required"`
}

type LLMConfig struct {
	Provider    string        `validate:"oneof=ollama openai"`
	Model       string        `validate:"required"`
	BaseURL     string        `validate:"omitempty,url"`
	APIKey      string        `validate:"required_if=Provider openai"`
	Timeout     time.Duration `validate:"gt=0"`
	Temperature float64       `validate:"gte=0,lte=2"`
}

// New builds the configuration from the environment. A .env file in the
// working directory is loaded first when present.
func New() (*Config, error) {
	_ = godotenv.Load()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("ANALYST_DATA_DIR", filepath.Join(homeDir, ".analyst"))

	c := &Config{
		DataDir:       dataDir,
		DBPath:        getEnv("ANALYST_HISTORY_DB", filepath.Join(dataDir, "analyst.db")),
		NorthwindPath: getEnv("ANALYST_NORTHWIND_DB", filepath.Join(dataDir, "northwind.sqlite")),
		DocsDir:       getEnv("ANALYST_DOCS_DIR", filepath.Join(dataDir, "docs")),
		PlannerScript: getEnv("ANALYST_PLANNER_SCRIPT", ""),
		RetrievalK:    getEnvInt("ANALYST_RETRIEVAL_K", 3),
		QueryTimeout:  getEnvDuration("ANALYST_QUERY_TIMEOUT", 30*time.Second),
		ReadOnlyDB:    getEnvBool("ANALYST_READ_ONLY_DB", true),
		LLM: LLMConfig{
			Provider:    getEnv("ANALYST_LLM_PROVIDER", "ollama"),
			Model:       getEnv("ANALYST_LLM_MODEL", "phi3.5:3.8b-mini-instruct-q4_K_M"),
			BaseURL:     getEnv("ANALYST_LLM_BASE_URL", ""),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			Timeout:     getEnvDuration("ANALYST_LLM_TIMEOUT", 120*time.Second),
			Temperature: getEnvFloat("ANALYST_LLM_TEMPERATURE", 0),
		},
		LogLevel:  getEnv("ANALYST_LOG_LEVEL", "info"),
		LogFile:   getEnv("ANALYST_LOG_FILE", ""),
		LogJSON:   getEnvBool("ANALYST_LOG_JSON", false),
		ServeAddr: getEnv("ANALYST_ADDR", ":8080"),
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Dir(c.DBPath), 0755)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}
