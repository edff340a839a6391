package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ProviderDummy, cfg.Signing.Provider)
	assert.Equal(t, 2*time.Second, cfg.BankID.PollInterval.Duration)
	assert.Equal(t, time.Second, cfg.BankID.CloseCheckInterval.Duration)
	assert.Equal(t, 5*time.Minute, cfg.BankID.HardTimeout.Duration)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utilitysign.toml")
	content := `
[server]
addr = ":9090"
session_ttl = "30m"

[signing]
provider = "http"
base_url = "https://api.utilitysign.example"
timeout = "3s"

[bankid]
poll_interval = "1s"
hard_timeout = "2m"

[catalog]
business_products = ["bedrift-fastpris"]
sports_product = "sport-spot"

[storage.policy]
max_file_mb = 5
mime_types = ["application/pdf"]
extensions = ["pdf"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Server.SessionTTL.Duration)
	assert.Equal(t, ProviderHTTP, cfg.Signing.Provider)
	assert.Equal(t, 3*time.Second, cfg.Signing.Timeout.Duration)
	assert.Equal(t, time.Second, cfg.BankID.PollInterval.Duration)
	assert.Equal(t, time.Second, cfg.BankID.CloseCheckInterval.Duration, "unset keys keep defaults")
	assert.Equal(t, []string{"bedrift-fastpris"}, cfg.Catalog.BusinessProducts)
	assert.Equal(t, 5.0, cfg.Storage.Policy.MaxFileMB)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ADDR", ":7070")
	t.Setenv("UTILITYSIGN_API_URL", "https://api.utilitysign.example")
	t.Setenv("UTILITYSIGN_API_KEY", "secret")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("STORAGE_BUCKET", "documents")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, ProviderHTTP, cfg.Signing.Provider, "an API URL selects the http provider")
	assert.Equal(t, "secret", cfg.Signing.APIKey)
	assert.Equal(t, StorageS3, cfg.Storage.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	t.Run("http provider needs a URL", func(t *testing.T) {
		cfg := Default()
		cfg.Signing.Provider = ProviderHTTP
		assert.ErrorContains(t, cfg.Validate(), "signing.base_url")
	})

	t.Run("durations", func(t *testing.T) {
		cfg := Default()
		cfg.BankID.PollInterval = Duration{10 * time.Minute}
		assert.ErrorContains(t, cfg.Validate(), "bankid.poll_interval")

		cfg = Default()
		cfg.Signing.RequestTTL = Duration{}
		assert.ErrorContains(t, cfg.Validate(), "signing.request_ttl")
	})

	t.Run("required auth needs a secret", func(t *testing.T) {
		cfg := Default()
		cfg.Auth.Required = true
		assert.ErrorContains(t, cfg.Validate(), "auth.jwt_secret")
	})

	t.Run("s3 needs a bucket", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.Backend = StorageS3
		assert.ErrorContains(t, cfg.Validate(), "storage.bucket")
	})
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[bankid]
poll_interval = "soon"`), 0o600))
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
