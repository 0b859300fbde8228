// Package cli implements the ekaya-catalog command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/config"
	"github.com/ekaya-inc/ekaya-catalog/pkg/logging"
)

type runtimeKey struct{}

// runtime is what PersistentPreRunE prepares for every command.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
}

func runtimeFrom(cmd *cobra.Command) *runtime {
	rt, _ := cmd.Context().Value(runtimeKey{}).(*runtime)
	return rt
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd(version string) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "ekaya-catalog",
		Short: "Metadata catalog sync for external data sources",
		Long: `ekaya-catalog connects to external data sources, extracts their
structural metadata and keeps a per-tenant catalog of assets up to date.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := config.Load(cfgFile, version)
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, runtimeKey{}, &runtime{cfg: cfg, logger: logger}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt := runtimeFrom(cmd); rt != nil {
				_ = rt.logger.Sync()
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSeedConnectorsCmd("seed-connectors"))
	rootCmd.AddCommand(newConnectorsCmd())
	rootCmd.AddCommand(newDataSourceCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newWorkerCmd())
	return rootCmd
}

// withApp builds the app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	rt := runtimeFrom(cmd)
	if rt == nil {
		return fmt.Errorf("configuration not loaded")
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func parseUUID(name, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, fmt.Errorf("--%s is required", name)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --%s %q: %w", name, value, err)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
