package crypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, 20)
	raw[19] = 7
	addr := NewAddress(AccountPrefix, raw)
	decoded, err := DecodeAddress(addr.String())
	require.NoError(t, err)
	require.True(t, decoded.Equal(addr))
	require.Equal(t, AccountPrefix, decoded.Prefix())

	text, err := addr.MarshalText()
	require.NoError(t, err)
	var back Address
	require.NoError(t, back.UnmarshalText(text))
	require.True(t, back.Equal(addr))

	require.NoError(t, back.UnmarshalText(nil))
	require.True(t, back.IsZero())
	require.Empty(t, back.String())
}

func TestDecodeAddressRejects(t *testing.T) {
	_, err := DecodeAddress("not-an-address")
	require.Error(t, err)

	short, err := DecodeAddress(NewAddress(AccountPrefix, make([]byte, 20)).String()[:10])
	require.Error(t, err)
	require.True(t, short.IsZero())
}

func TestModuleAddressIsStable(t *testing.T) {
	a := ModuleAddress("market")
	b := ModuleAddress(" market ")
	require.True(t, a.Equal(b))
	require.Equal(t, ModulePrefix, a.Prefix())
	require.False(t, a.Equal(ModuleAddress("staking")))
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "operator.json")
	require.NoError(t, SaveToKeystore(path, key, "secret", LightKeystore))

	loaded, err := LoadFromKeystore(path, "secret")
	require.NoError(t, err)
	require.True(t, loaded.PubKey().Address().Equal(key.PubKey().Address()))

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)

	restored, err := PrivateKeyFromBytes(key.Bytes())
	require.NoError(t, err)
	require.True(t, restored.PubKey().Address().Equal(key.PubKey().Address()))
}
