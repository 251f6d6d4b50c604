package main

// @title           Sercha Typesense API
// @version         1.0
// @description     Keeps Typesense collections in sync with relational records and exposes collection administration.

// @contact.name   Sercha OSS
// @contact.url    https://github.com/custodia-labs/sercha-typesense/issues

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token. Format: "Bearer {token}"

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/custodia-labs/sercha-typesense/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()

	root := &cobra.Command{
		Use:           "sercha-typesense",
		Short:         "Typesense collection sync service",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("config-file", "", "Static collection, record type and principal definitions (YAML)")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	bindFlag(v, root, "config_file", "config-file")
	bindFlag(v, root, "log_level", "log-level")
	bindFlag(v, root, "log_format", "log-format")

	root.AddCommand(
		newServeCmd(v),
		newImportCmd(v),
		newSyncCmd(v),
		newHashPasswordCmd(),
		newVersionCmd(),
	)
	return root
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		slog.Error("failed to bind flag", "flag", flag, "error", err)
	}
}

// loadConfig reads the settings and installs the process logger.
func loadConfig(v *viper.Viper) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
