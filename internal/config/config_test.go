package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "postgres", cfg.MetaDriver)
	assert.Equal(t, "postgres", cfg.BlobBackend)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(16), cfg.MaxCursorConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.ReportTimeout)
	assert.False(t, cfg.Compression)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BLOB_BACKEND", "gridfs")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("MAX_CURSOR_CONCURRENCY", "4")
	t.Setenv("REPORT_TIMEOUT", "90s")
	t.Setenv("COMPRESSION", "true")
	t.Setenv("SMTP_PORT", "not-a-number")

	cfg := Load()

	assert.Equal(t, "gridfs", cfg.BlobBackend)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(4), cfg.MaxCursorConcurrency)
	assert.Equal(t, 90*time.Second, cfg.ReportTimeout)
	assert.True(t, cfg.Compression)
	assert.Equal(t, 587, cfg.SMTPPort, "unparseable int falls back to default")
}
