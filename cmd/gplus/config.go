package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	gplus "github.com/Moo-hub/GplusAPP-sub002"
)

// cliConfig is the CLI state stored in ~/.gplus/config.toml. Token material
// lives in the client's durable store, not here.
type cliConfig struct {
	Default cliDefaults `toml:"default"`
}

type cliDefaults struct {
	BaseURL string `toml:"base_url"`
	DataDir string `toml:"data_dir"`
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".gplus")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func loadCLIConfig() (*cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cliConfig{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg cliConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func saveCLIConfig(cfg *cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// newClient builds a gplus client from the environment plus CLI config file
// overrides.
func newClient(ctx context.Context) (*gplus.Client, error) {
	cfg, err := gplus.ConfigFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("configuration load failed: %w", err)
	}

	fileCfg, err := loadCLIConfig()
	if err != nil {
		return nil, err
	}
	if fileCfg.Default.BaseURL != "" {
		cfg.BaseURL = fileCfg.Default.BaseURL
	}
	if fileCfg.Default.DataDir != "" {
		cfg.DataDir = fileCfg.Default.DataDir
	}

	return gplus.NewClient(cfg, gplus.WithNotifier(gplus.LogNotifier{}))
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long:  "View or modify the CLI configuration stored in ~/.gplus/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("No configuration file found.")
				return nil
			}
			return fmt.Errorf("cannot read config file: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\nKeys: default.base_url, default.data_dir",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadCLIConfig()
		if err != nil {
			return err
		}

		switch key {
		case "default.base_url":
			cfg.Default.BaseURL = value
		case "default.data_dir":
			cfg.Default.DataDir = value
		default:
			return fmt.Errorf("unknown config key %q (valid: default.base_url, default.data_dir)", key)
		}

		if err := saveCLIConfig(cfg); err != nil {
			return err
		}
		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}
