// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/agora-forum/agora/internal/config"
	"github.com/agora-forum/agora/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Agora CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agora",
		Short: "Agora - student forum API",
		Long: `Agora is the API server of a student forum. It issues and rotates
JWT sessions for local and Google accounts.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/agora/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewKeysCmd())
	cmd.AddCommand(NewSweepCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// configSource returns the config path to read. The XDG default may be absent.
func configSource() (path string, optional bool, err error) {
	if configFile != "" {
		return configFile, false, nil
	}
	path, err = xdg.ConfigFile()
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

// loadConfig loads and validates the full service configuration.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, optional, err := configSource()
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(path, optional, cmd.Flags())
}

// readConfig loads the configuration without validating it.
func readConfig(cmd *cobra.Command) (config.Config, error) {
	path, optional, err := configSource()
	if err != nil {
		return config.Config{}, err
	}
	return config.Read(path, optional, cmd.Flags())
}
