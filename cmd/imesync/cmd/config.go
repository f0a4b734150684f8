package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"imesync/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print the effective values",
	Args:  cobra.NoArgs,
	RunE:  runConfigCheck,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file if none exists",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), configFile())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configCheckCmd, configInitCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func configFile() string {
	if cfgFile != "" {
		return cfgFile
	}
	if found := config.FindConfigFile(); found != "" {
		return found
	}
	return config.ConfigPath()
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", e.Error())
			}
		}
		return fmt.Errorf("%s: %w", configFile(), config.ErrInvalidConfig)
	}
	fmt.Fprint(cmd.OutOrStdout(), cfg.String())
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile()
	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if created {
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", path)
	}
	return nil
}
