package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	schemaPath string
	config     Config

	rootCmd = &cobra.Command{
		Use:           "meshdoc",
		Short:         "Inspect mesh schemas and replay change logs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			config = cfg
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to meshdoc.yaml")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "", "schema file (.json, .yaml), overrides the config file")

	schemaCmd.AddCommand(schemaValidateCmd, schemaConvertCmd)
	rootCmd.AddCommand(schemaCmd, replayCmd)
}

// resolveSchemaPath prefers args, then --schema, then the config file.
func resolveSchemaPath(args []string) (string, error) {
	switch {
	case len(args) > 0:
		return args[0], nil
	case schemaPath != "":
		return schemaPath, nil
	case config.Schema != "":
		return config.Schema, nil
	}
	return "", fmt.Errorf("no schema given: pass a file, --schema or set schema in the config")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
