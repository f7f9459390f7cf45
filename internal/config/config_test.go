package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfigMap() map[string]interface{} {
	return map[string]interface{}{
		"http_port":            8080,
		"metrics_port":         9090,
		"log_level":            "info",
		"db_path":              "/tmp/sociallink.db",
		"token_encryption_key": "0123456789abcdef0123456789abcdef",
		"linkedin": map[string]string{
			"client_id":     "li-client",
			"client_secret": "li-secret",
			"redirect_uri":  "http://localhost:8080/connect/linkedin/callback",
		},
		"twitter": map[string]string{
			"client_id":     "tw-client",
			"client_secret": "tw-secret",
			"redirect_uri":  "http://localhost:8080/connect/twitter/callback",
		},
	}
}

func writeConfigFile(t *testing.T, m map[string]interface{}) string {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, validConfigMap()))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "li-client", cfg.LinkedIn.ClientID)
	assert.Equal(t, "tw-secret", cfg.Twitter.ClientSecret)
	// Defaults applied when the file does not set them.
	assert.Equal(t, 15*time.Second, cfg.OutboundTimeout.Duration)
	assert.Equal(t, 5*time.Minute, cfg.Sweeper.Interval.Duration)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TWITTER_CLIENT_SECRET", "from-env")
	t.Setenv("DB_PATH", "/tmp/other.db")
	t.Setenv("OUTBOUND_TIMEOUT", "5s")

	cfg, err := Load(writeConfigFile(t, validConfigMap()))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Twitter.ClientSecret)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.OutboundTimeout.Duration)
}

func TestLoad_RejectsBadKeyLength(t *testing.T) {
	m := validConfigMap()
	m["token_encryption_key"] = "too-short"

	_, err := Load(writeConfigFile(t, m))
	assert.Error(t, err)
}

func TestLoad_RejectsMissingPlatformCredentials(t *testing.T) {
	m := validConfigMap()
	delete(m, "linkedin")

	_, err := Load(writeConfigFile(t, m))
	assert.Error(t, err)
}

func TestDuration_UnmarshalString(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"30m"`), &d))
	assert.Equal(t, 30*time.Minute, d.Duration)
}
