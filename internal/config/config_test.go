package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const validYAML = `
server:
  port: 9090
auth:
  access_token_secret: "0123456789abcdef0123456789abcdef-access"
  refresh_token_secret: "0123456789abcdef0123456789abcdef-refresh"
email:
  smtp:
    host: localhost
    port: 1025
    from: "noreply@samadhan.local"
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "0.0.0.0:9090", cfg.Addr())
	require.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
	require.Equal(t, 30*24*time.Hour, cfg.Auth.RefreshTokenTTL)
	require.Equal(t, 24*time.Hour, cfg.Auth.EmailTokenTTL)
	require.Equal(t, 10*time.Minute, cfg.Auth.PhoneCodeTTL)
	require.Equal(t, 12, cfg.Auth.BcryptCost)
	require.Equal(t, 10, cfg.RateLimit.Auth.Requests)
	require.Equal(t, 15*time.Minute, cfg.RateLimit.Auth.Window)
	require.Equal(t, 3, cfg.RateLimit.Verification.Requests)
	require.Equal(t, "log", cfg.SMS.Provider)
	require.Equal(t, "disk", cfg.Storage.Backend)
	require.False(t, cfg.IsProduction())
}

func TestParseEnvOverridesSecretsAndAutoVerify(t *testing.T) {
	t.Setenv("SAMADHAN_ACCESS_TOKEN_SECRET", "env-access-secret-env-access-secret-xx")
	t.Setenv("SAMADHAN_AUTO_VERIFY", "true")
	t.Setenv("SAMADHAN_ENV", "production")

	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	require.Equal(t, "env-access-secret-env-access-secret-xx", cfg.Auth.AccessTokenSecret)
	require.Equal(t, "0123456789abcdef0123456789abcdef-refresh", cfg.Auth.RefreshTokenSecret)
	require.True(t, cfg.Auth.AutoVerify)
	require.True(t, cfg.IsProduction())
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing_access_secret",
			yaml: `
auth:
  refresh_token_secret: "0123456789abcdef0123456789abcdef-refresh"
email: {smtp: {host: localhost, port: 25, from: a@b.c}}
`,
		},
		{
			name: "short_refresh_secret",
			yaml: `
auth:
  access_token_secret: "0123456789abcdef0123456789abcdef-access"
  refresh_token_secret: "short"
email: {smtp: {host: localhost, port: 25, from: a@b.c}}
`,
		},
		{
			name: "identical_secrets",
			yaml: `
auth:
  access_token_secret: "0123456789abcdef0123456789abcdef-same"
  refresh_token_secret: "0123456789abcdef0123456789abcdef-same"
email: {smtp: {host: localhost, port: 25, from: a@b.c}}
`,
		},
		{
			name: "unknown_sms_provider",
			yaml: validYAML + `
sms:
  provider: pigeon
`,
		},
		{
			name: "s3_without_bucket",
			yaml: validYAML + `
storage:
  backend: s3
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestParseStorageBackends(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	require.Equal(t, StorageBackendDisk, cfg.Storage.Backend)
	require.Equal(t, cfg.Server.BaseURL, cfg.Storage.PublicBaseURL)

	cfg, err = Parse([]byte(validYAML + `
storage:
  backend: S3
  s3:
    bucket: avatars
`))
	require.NoError(t, err)
	require.Equal(t, StorageBackendS3, cfg.Storage.Backend)
	require.Empty(t, cfg.Storage.PublicBaseURL)
	require.Equal(t, "us-east-1", cfg.Storage.S3.Region)
}

func TestParseCORSOriginsFromEnv(t *testing.T) {
	t.Setenv("SAMADHAN_CORS_ORIGINS", "https://app.samadhan.in,https://admin.samadhan.in")

	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	require.Equal(t, []string{"https://app.samadhan.in", "https://admin.samadhan.in"}, cfg.Server.CORSOrigins)
}
