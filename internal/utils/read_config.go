package utils

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
	"github.com/reqguard/reqguard/internal/config"
)

// SecretEnvName is an environment variable which overrides a secret from
// the config file.
const SecretEnvName = "REQGUARD_SECRET"

// ReadConfig reads a TOML config. A secret from the environment takes
// precedence over the file.
func ReadConfig(path string) (*config.Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}

	return ParseConfig(content)
}

// ParseConfig converts TOML into a typed config.
func ParseConfig(content []byte) (*config.Config, error) {
	tree, err := toml.LoadBytes(content)
	if err != nil {
		return nil, fmt.Errorf("cannot parse toml config: %w", err)
	}

	data := tree.ToMap()

	if secret, ok := os.LookupEnv(SecretEnvName); ok && secret != "" {
		data["secret"] = secret
	}

	jsonContent, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("cannot convert toml config: %w", err)
	}

	conf, err := config.Parse(jsonContent)
	if err != nil {
		return nil, fmt.Errorf("cannot parse final config: %w", err)
	}

	return conf, nil
}
