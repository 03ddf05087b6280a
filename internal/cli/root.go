// Package cli implements the addinaudit command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/git-pkgs/addinaudit/internal/config"
	"github.com/git-pkgs/addinaudit/internal/logging"
)

// TokenEnv names the environment variable holding the hosting API token.
const TokenEnv = "ADDINAUDIT_GITHUB_TOKEN"

type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "addinaudit",
		Short: "Audit Cake addins published on NuGet",
		Long: `addinaudit discovers Cake addins, modules and recipes on the NuGet
registry, inspects their packages and source repositories, and records
how each version measures up against the contribution guidelines.

Results are saved per version so later runs only analyze new releases.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format (console, json)")

	rootCmd.AddCommand(NewRunCmd(opts))
	rootCmd.AddCommand(NewInspectCmd(opts))
	rootCmd.AddCommand(NewCompareCmd())

	return rootCmd
}

// load reads the configuration and applies the global flags and the
// environment on top of it.
func (o *globalOptions) load() (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if token := os.Getenv(TokenEnv); token != "" {
		cfg.Hosting.Token = token
	}
	return cfg, nil
}

func (o *globalOptions) logger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format)
}
