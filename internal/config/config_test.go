package config

import (
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	c, err := Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if c.HTTP.Port != 8080 || c.Store.Backend != "memory" {
		t.Fatalf("defaults = %+v", c)
	}
	if c.Pipeline.MaxRetries != 3 || c.Pipeline.CallTimeout != 10*time.Minute {
		t.Fatalf("pipeline defaults = %+v", c.Pipeline)
	}
	if !c.OpenAI.UseMockAI() {
		t.Fatal("UseMockAI() = false without an API key")
	}
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("PIPELINE_MAX_RETRIES", "5")
	t.Setenv("PIPELINE_CALL_TIMEOUT", "45s")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	c, err := Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if c.HTTP.Port != 9090 || c.Pipeline.MaxRetries != 5 || c.Pipeline.CallTimeout != 45*time.Second {
		t.Fatalf("overrides not applied: %+v", c)
	}
	if len(c.HTTP.AllowedOrigins) != 2 {
		t.Fatalf("allowed origins = %v", c.HTTP.AllowedOrigins)
	}
	if c.OpenAI.UseMockAI() {
		t.Fatal("UseMockAI() = true with an API key")
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"unknown backend", "STORE_BACKEND", "mongo"},
		{"postgres without dsn", "STORE_BACKEND", "postgres"},
		{"zero workers", "PIPELINE_WORKERS", "0"},
		{"bad duration", "PIPELINE_CALL_TIMEOUT", "soon"},
		{"negative retries", "PIPELINE_MAX_RETRIES", "-1"},
		{"stale before call timeout", "PIPELINE_STALE_AFTER", "5m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Parse(); err == nil {
				t.Fatalf("Parse() with %s=%s succeeded", tt.key, tt.value)
			}
		})
	}
}

func TestParseZeroRetries(t *testing.T) {
	t.Setenv("PIPELINE_MAX_RETRIES", "0")
	c, err := Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if c.Pipeline.MaxRetries != 0 {
		t.Fatalf("max retries = %d, want 0", c.Pipeline.MaxRetries)
	}
}
