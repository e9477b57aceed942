package integration

import (
	"context"
	"os"
	"testing"
	"time"
)

// Config holds integration test configuration from environment
type Config struct {
	EndpointURL string
	EndpointKey string
	OpenAIKey   string
	OpenAIModel string
	TestTimeout time.Duration
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	model := os.Getenv("MEDSIGHT_IT_OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Config{
		EndpointURL: os.Getenv("MEDSIGHT_IT_ENDPOINT_URL"),
		EndpointKey: os.Getenv("MEDSIGHT_IT_ENDPOINT_KEY"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: model,
		TestTimeout: 2 * time.Minute,
	}
}

// SkipIfUnset skips the test if the required variable is not set
func SkipIfUnset(t *testing.T, value, name string) {
	t.Helper()
	if value == "" {
		t.Skipf("Skipping integration test: %s not set", name)
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
