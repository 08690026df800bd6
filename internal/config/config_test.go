package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ANALYST_DATA_DIR", dir)
	t.Setenv("ANALYST_LLM_PROVIDER", "ollama")

	c, err := New()
	require.NoError(t, err)

	assert.Equal(t, dir, c.DataDir)
	assert.Equal(t, filepath.Join(dir, "analyst.db"), c.DBPath)
	assert.Equal(t, filepath.Join(dir, "northwind.sqlite"), c.NorthwindPath)
	assert.Equal(t, filepath.Join(dir, "docs"), c.DocsDir)
	assert.Equal(t, 3, c.RetrievalK)
	assert.Equal(t, 30*time.Second, c.QueryTimeout)
	assert.True(t, c.ReadOnlyDB)
	assert.Equal(t, "ollama", c.LLM.Provider)
	assert.Equal(t, 120*time.Second, c.LLM.Timeout)
	assert.Equal(t, ":8080", c.ServeAddr)
}

func TestNewFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ANALYST_DATA_DIR", dir)
	t.Setenv("ANALYST_RETRIEVAL_K", "5")
	t.Setenv("ANALYST_QUERY_TIMEOUT", "5s")
	t.Setenv("ANALYST_READ_ONLY_DB", "false")
	t.Setenv("ANALYST_LLM_PROVIDER", "openai")
	t.Setenv("ANALYST_LLM_MODEL", "gpt-4o-mini")
	t.Setenv("ANALYST_LLM_BASE_URL", "http://localhost:1234/v1")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANALYST_LLM_TEMPERATURE", "0.2")
	t.Setenv("ANALYST_LOG_LEVEL", "debug")

	c, err := New()
	require.NoError(t, err)

	assert.Equal(t, 5, c.RetrievalK)
	assert.Equal(t, 5*time.Second, c.QueryTimeout)
	assert.False(t, c.ReadOnlyDB)
	assert.Equal(t, "openai", c.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", c.LLM.Model)
	assert.Equal(t, "sk-test", c.LLM.APIKey)
	assert.Equal(t, 0.2, c.LLM.Temperature)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestNewIgnoresUnparsableNumbers(t *testing.T) {
	t.Setenv("ANALYST_DATA_DIR", t.TempDir())
	t.Setenv("ANALYST_LLM_PROVIDER", "ollama")
	t.Setenv("ANALYST_RETRIEVAL_K", "many")
	t.Setenv("ANALYST_QUERY_TIMEOUT", "soon")

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, 3, c.RetrievalK)
	assert.Equal(t, 30*time.Second, c.QueryTimeout)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DataDir:       "/tmp/a",
			DBPath:        "/tmp/a/analyst.db",
			NorthwindPath: "/tmp/a/northwind.sqlite",
			DocsDir:       "/tmp/a/docs",
			RetrievalK:    3,
			QueryTimeout:  time.Second,
			LLM:           LLMConfig{Provider: "ollama", Model: "phi3.5", Timeout: time.Second},
			LogLevel:      "info",
			ServeAddr:     ":8080",
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(c *Config){
		"unknown provider":    func(c *Config) { c.LLM.Provider = "bard" },
		"openai without key":  func(c *Config) { c.LLM.Provider = "openai" },
		"zero k":              func(c *Config) { c.RetrievalK = 0 },
		"bad log level":       func(c *Config) { c.LogLevel = "loud" },
		"bad base url":        func(c *Config) { c.LLM.BaseURL = "not a url" },
		"temperature too hot": func(c *Config) { c.LLM.Temperature = 3 },
		"missing model":       func(c *Config) { c.LLM.Model = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.ErrorContains(t, c.Validate(), "invalid configuration")
		})
	}
}
