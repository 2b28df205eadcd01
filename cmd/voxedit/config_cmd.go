package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voxedit/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	var format string
	printCmd := &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration (defaults merged with --config)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			data, err := encodeConfig(cfg, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	printCmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgPath == "" {
				return fmt.Errorf("validate needs --config")
			}
			if _, err := config.Load(cfgPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", cfgPath)
			return nil
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Write a configuration passed via " + envConfigJSON + " or " + envConfigYAMLB64 + " to --config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			wrote, err := syncConfigFromEnv(cfgPath)
			if err != nil {
				return err
			}
			if wrote {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgPath)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "no configuration in the environment")
			}
			return nil
		},
	}

	cmd.AddCommand(printCmd, validateCmd, syncCmd)
	return cmd
}
