package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"contentgraph/internal/config"
)

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	baseURL    string
	store      string
	storePath  string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "contentgraph",
		Short: "Mirror a JSON:API content repository into a local graph",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file (default: search $CONTENTGRAPH_CONFIG, ./contentgraph.yaml, ...)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format: json or console")
	pf.StringVar(&flags.baseURL, "base-url", "", "base URL of the remote repository")
	pf.StringVar(&flags.store, "store", "", "store driver: memory or sqlite")
	pf.StringVar(&flags.storePath, "store-path", "", "sqlite database path")

	root.AddCommand(
		newImportCmd(flags),
		newApplyCmd(flags),
		newServeCmd(flags),
		newWatchCmd(flags),
		newExportCmd(flags),
		newConfigCmd(flags),
	)
	return root
}

// loadConfig reads the config file, applies flag overrides and validates
func (f *globalFlags) loadConfig() (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if f.configPath != "" {
		cfg, path, err = config.LoadFromPath(f.configPath)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return nil, path, err
	}

	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if f.baseURL != "" {
		cfg.BaseURL = f.baseURL
	}
	if f.store != "" {
		cfg.Store.Driver = f.store
	}
	if f.storePath != "" {
		cfg.Store.Path = f.storePath
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.Path == "" {
		cfg.Store.Path = "./contentgraph.db"
	}

	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, path, nil
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if path == "" {
				path = "(defaults)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config: %s\n%s\n", path, cfg.Summary())
			return nil
		},
	}
}
