package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEnvTokens(t *testing.T) {
	t.Setenv("CONFIG_TEST_SET", "from-env")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "set variable wins", in: "value: ${CONFIG_TEST_SET:fallback}", want: "value: from-env"},
		{name: "unset falls back to default", in: "value: ${CONFIG_TEST_UNSET:fallback}", want: "value: fallback"},
		{name: "unset without default is empty", in: "value: ${CONFIG_TEST_UNSET}", want: "value: "},
		{name: "plain text untouched", in: "value: $HOME and {braces}", want: "value: $HOME and {braces}"},
		{name: "multiple tokens", in: "${CONFIG_TEST_SET}/${CONFIG_TEST_UNSET:x}", want: "from-env/x"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveEnvTokens(tc.in))
		})
	}
}

func TestLoadMergesDefaultsAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  host: example.com\n"), 0o644))

	var cfg struct {
		Server struct {
			Host string `mapstructure:"host"`
			Port int    `mapstructure:"port"`
		} `mapstructure:"server"`
	}
	defaults := map[string]interface{}{
		"server.host": "localhost",
		"server.port": 8080,
	}

	require.NoError(t, Load(path, defaults, &cfg))
	assert.Equal(t, "example.com", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	var cfg struct{}
	err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil, &cfg)
	assert.ErrorContains(t, err, "failed to read config file")
}
