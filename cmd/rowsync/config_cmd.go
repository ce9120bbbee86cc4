package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chameleon-db/rowsync/internal/config"
	"github.com/chameleon-db/rowsync/pkg/engine"
)

var (
	configForce   bool
	configConnect bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the local rowsync configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter .rowsync.yml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := writeConfigTemplate(resolveWorkDir(), configForce)
		if err != nil {
			return err
		}
		printSuccess("Configuration written to %s", path)
		printInfo("Set ROWSYNC_PASSWORD or ROWSYNC_DATABASE_URL to keep secrets out of the file")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after environment overrides are applied.
Passwords are masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := renderConfig(cfg)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration",
	Long: `Validate .rowsync.yml and, with --connect, open and close a connection
using the configured settings.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewLoader(resolveWorkDir()).Load()
		if err != nil {
			return err
		}
		svcCfg, err := cfg.ToServiceConfig()
		if err != nil {
			return err
		}
		printSuccess("Configuration is valid")
		printInfo("Driver: %s, access: %s, isolation: %s", svcCfg.Connector.Driver, svcCfg.AccessMethod, svcCfg.Isolation)

		if !configConnect {
			return nil
		}

		svc, err := engine.NewService(svcCfg, engine.WithLogger(log.Logger))
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := svc.Open(ctx); err != nil {
			return err
		}
		defer svc.Close()
		printSuccess("Connected to %s", svcCfg.Connector.Driver)
		return nil
	},
}

// writeConfigTemplate writes the starter file into dir. An existing file is
// only replaced when force is set.
func writeConfigTemplate(dir string, force bool) (string, error) {
	loader := config.NewLoader(dir)
	path := loader.Path()

	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(config.Template()), 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

func renderConfig(cfg *config.Config) (string, error) {
	masked := *cfg
	if masked.Database.Password != "" {
		masked.Database.Password = "********"
	}
	if masked.Access.DefaultAppRolePassword != "" {
		masked.Access.DefaultAppRolePassword = "********"
	}
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	return string(data), nil
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing configuration file")
	configCheckCmd.Flags().BoolVar(&configConnect, "connect", false, "Also open a connection")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
