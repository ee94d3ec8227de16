package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uruserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bind_address: "1.2.3.4"
port: 9999
data_root: "/srv/data"
database:
  backend: postgres
  dsn: "postgres://x"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "1.2.3.4", cfg.BindAddress)
	require.Equal(t, 9999, cfg.Port)
	require.Equal(t, "/srv/data", cfg.DataRoot)
	require.Equal(t, "postgres", cfg.Database.Backend)
	require.Equal(t, "/srv/data/.ntd_server.key", cfg.NTDKeyPath())
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "from-env.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`port: 4242`), 0o644))
	t.Setenv(configPathEnv, path)

	cfg, err := Load("ignored.yaml")
	require.NoError(t, err)
	require.Equal(t, 4242, cfg.Port)
}

func TestKeyPairDecode(t *testing.T) {
	kp := KeyPair{N: "abcd", K: "03"}
	decoded, err := kp.Decode()
	require.NoError(t, err)
	require.Equal(t, "abcd", hexString(decoded.N.Bytes()))
}

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0xf]
	}
	return string(out)
}
