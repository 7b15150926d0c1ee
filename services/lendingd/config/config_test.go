package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
env: dev
tls:
  allow_insecure: true
auth:
  hmac_secret: " 0123456789abcdef "
market:
  genesis: market.toml
dev:
  allow_mint: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":6000", cfg.ListenAddress)
	require.Equal(t, "0123456789abcdef", cfg.Auth.HMACSecret)
	require.Equal(t, 2*time.Minute, cfg.Auth.ClockSkew)
	require.Equal(t, 5*time.Second, cfg.Market.BlockPeriod)
	require.Equal(t, float64(600), cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 60, cfg.RateLimit.Burst)
	require.Empty(t, cfg.Storage.Path)
	require.True(t, cfg.IsDev())
	require.False(t, cfg.TLS.Enabled())
}

func TestLoadConfigDurations(t *testing.T) {
	path := writeConfig(t, `
tls:
  cert: server.crt
  key: server.key
auth:
  hmac_secret: 0123456789abcdef
  clock_skew: 30s
market:
  genesis: market.toml
  block_period: 2s
storage:
  path: /var/lib/lendingd
audit:
  dsn: postgres://lend@localhost/audit
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.Auth.ClockSkew)
	require.Equal(t, 2*time.Second, cfg.Market.BlockPeriod)
	require.True(t, cfg.TLS.Enabled())
	require.Equal(t, "/var/lib/lendingd", cfg.Storage.Path)
	require.Equal(t, "postgres://lend@localhost/audit", cfg.Audit.DSN)
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]string{
		"short secret": `
tls: {allow_insecure: true}
auth: {hmac_secret: short}
market: {genesis: market.toml}
`,
		"missing key": `
tls: {cert: server.crt}
auth: {hmac_secret: 0123456789abcdef}
market: {genesis: market.toml}
`,
		"plaintext": `
auth: {hmac_secret: 0123456789abcdef}
market: {genesis: market.toml}
`,
		"no genesis": `
tls: {allow_insecure: true}
auth: {hmac_secret: 0123456789abcdef}
`,
		"mint outside dev": `
env: prod
tls: {allow_insecure: true}
auth: {hmac_secret: 0123456789abcdef}
market: {genesis: market.toml}
dev: {allow_mint: true}
`,
		"unknown field": `
tls: {allow_insecure: true}
auth: {hmac_secret: 0123456789abcdef, api_tokens: [x]}
market: {genesis: market.toml}
`,
		"sample ratio": `
tls: {allow_insecure: true}
auth: {hmac_secret: 0123456789abcdef}
market: {genesis: market.toml}
telemetry: {sample_ratio: 2}
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigRequiresPath(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}
