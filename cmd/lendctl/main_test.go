package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lendmarket/crypto"
	"lendmarket/services/lendingd/server"
)

const testMarket = `
BaseAsset = "USD"
Deployer = "lend1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqpwefack"
Governance = "lend1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqzq2utkf"
ReservePercentage = 10_000_000

[[collateral]]
Asset = "BTC"
MaxLTV = 70_000_000
LiquidationLTV = 80_000_000
LiquidationDiscount = 10_000_000
Decimals = 8

[[cap]]
Resource = "lp"
Factor = 20_000_000
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestKeygenAndAddress(t *testing.T) {
	t.Setenv(defaultPassEnv, "correct horse battery staple")
	path := filepath.Join(t.TempDir(), "keys", "gov.keystore")

	printed, err := execute(t, "keygen", "--out", path, "--light")
	require.NoError(t, err)
	addr, err := crypto.DecodeAddress(printed)
	require.NoError(t, err)

	_, err = execute(t, "keygen", "--out", path, "--light")
	require.Error(t, err)

	shown, err := execute(t, "address", "--keystore", path)
	require.NoError(t, err)
	require.Equal(t, addr.String(), shown)
}

func TestTokenIsAcceptedByDaemon(t *testing.T) {
	secret := "0123456789abcdef0123"
	t.Setenv("LEND_HMAC_SECRET", secret)
	subject := "lend1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqzq2utkf"

	tok, err := execute(t, "token", "--subject", subject, "--scope", "governance", "--issuer", "lendctl", "--ttl", "10m")
	require.NoError(t, err)

	auth := server.NewAuthenticator(server.AuthConfig{HMACSecret: secret, Issuer: "lendctl"}, nil)
	principal, err := auth.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, subject, principal.Address.String())
	require.True(t, principal.HasScope(server.ScopeGovernance))

	_, err = execute(t, "token", "--subject", subject, "--scope", "root")
	require.Error(t, err)
	_, err = execute(t, "token")
	require.Error(t, err)
}

func TestCheckMarket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.toml")
	require.NoError(t, os.WriteFile(path, []byte(testMarket), 0o600))

	out, err := execute(t, "check-market", path)
	require.NoError(t, err)
	require.Contains(t, out, "base asset:   USD (8 decimals)")
	require.Contains(t, out, "collateral:   BTC")
	require.Contains(t, out, "cap:          lp factor=20000000")

	broken := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(broken, []byte(`BaseAsset = "USD"`), 0o600))
	_, err = execute(t, "check-market", broken)
	require.Error(t, err)
}

func TestExportAuditEmpty(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "audit.parquet")
	printed, err := execute(t, "export-audit", "--dsn", filepath.Join(dir, "audit.db"), "--out", out, "--since", time.Hour.String())
	require.NoError(t, err)
	require.Equal(t, "exported 0 records to "+out, printed)
	_, err = os.Stat(out)
	require.NoError(t, err)
}
