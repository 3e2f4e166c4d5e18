package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/reqguard/reqguard/internal/utils"
)

type Run struct {
	ConfigPath string `kong:"arg,required,type='existingfile',help='Path to the configuration file.',name='config-path'"` //nolint: lll
	EnvFile    string `kong:"help='Load environment variables from this file (default .env if exists).',type='path',short='e'"` //nolint: lll
}

func (r *Run) Run(cli *CLI, version string) error {
	if err := loadEnv(r.EnvFile); err != nil {
		return err
	}

	conf, err := utils.ReadConfig(r.ConfigPath)
	if err != nil {
		return fmt.Errorf("cannot parse config: %w", err)
	}

	return runServer(conf, version)
}

func loadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("cannot load env file: %w", err)
		}

		return nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cannot load .env: %w", err)
	}

	return nil
}
