package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// envTokenPattern matches ${ENV_VAR} and ${ENV_VAR:default} tokens.
var envTokenPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// ResolveEnvTokens substitutes ${ENV_VAR} / ${ENV_VAR:default} tokens in the
// given text. A set environment variable wins over the default; a token with
// neither resolves to the empty string.
func ResolveEnvTokens(raw string) string {
	return envTokenPattern.ReplaceAllStringFunc(raw, func(token string) string {
		groups := envTokenPattern.FindStringSubmatch(token)
		if env, ok := os.LookupEnv(groups[1]); ok {
			return env
		}
		return groups[2]
	})
}

// Load reads a YAML config file, resolves env tokens, registers the given
// defaults, applies environment-variable overrides, and unmarshals the merged
// result into the given config struct.
func Load(path string, defaults map[string]interface{}, config interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(strings.NewReader(ResolveEnvTokens(string(raw)))); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return v.Unmarshal(config)
}
