package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-catalog/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-catalog/pkg/database"
	"github.com/ekaya-inc/ekaya-catalog/pkg/models"
	"github.com/ekaya-inc/ekaya-catalog/pkg/services"
)

func newMigrateCmd() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply catalog schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				sqlDB := stdlib.OpenDBFromPool(a.db.Pool)
				defer sqlDB.Close()
				if err := database.RunMigrations(sqlDB, a.logger); err != nil {
					return err
				}
				if !seed {
					return nil
				}
				n, err := a.definitions.Seed(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d connector definitions\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", true, "seed built-in connector definitions after migrating")
	return cmd
}

func newConnectorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connectors",
		Short: "Inspect connector definitions and compiled-in extractors",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List connectors compiled into this binary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd.OutOrStdout(), datasource.RegisteredConnectors())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "definitions",
		Short: "List connector definitions stored in the catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				defs, err := a.definitions.List(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), defs)
			})
		},
	})

	cmd.AddCommand(newSeedConnectorsCmd("seed"))
	return cmd
}

func newSeedConnectorsCmd(use string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: "Insert or update the built-in connector definitions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.definitions.Seed(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d connector definitions\n", n)
				return nil
			})
		},
	}
}

func newDataSourceCmd() *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:     "datasource",
		Aliases: []string{"ds"},
		Short:   "Manage data sources",
	}
	cmd.PersistentFlags().StringVar(&tenant, "tenant", "", "tenant ID")

	var name, connector, version, configFile string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a data source from a JSON config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := parseUUID("tenant", tenant)
			if err != nil {
				return err
			}
			raw, err := readConfigFile(configFile)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.inTenant(ctx, tenantID, func(ctx context.Context) error {
					ds, err := a.dataSources.Create(ctx, tenantID, services.CreateDataSourceRequest{
						Name:             name,
						ConnectorKey:     connector,
						ConnectorVersion: version,
						Config:           raw,
					})
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), ds)
				})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&connector, "connector", "", "connector key, e.g. postgresql")
	create.Flags().StringVar(&version, "connector-version", "", "connector version (default 1.0.0)")
	create.Flags().StringVar(&configFile, "config-file", "", "JSON file with connection settings and credentials")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("connector")
	_ = create.MarkFlagRequired("config-file")

	var testID string
	test := &cobra.Command{
		Use:   "test",
		Short: "Test the connection of a data source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := parseUUID("tenant", tenant)
			if err != nil {
				return err
			}
			dsID, err := parseUUID("id", testID)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.inTenant(ctx, tenantID, func(ctx context.Context) error {
					if err := a.dataSources.TestConnection(ctx, tenantID, dsID); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "connection ok")
					return nil
				})
			})
		},
	}
	test.Flags().StringVar(&testID, "id", "", "data source ID")

	cmd.AddCommand(create, test)
	return cmd
}

func readConfigFile(path string) (map[string]any, error) {
	if path == "" {
		return nil, fmt.Errorf("--config-file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config file must be a JSON object: %w", err)
	}
	return raw, nil
}

func newSyncCmd() *cobra.Command {
	var tenant, dataSource string
	var queue bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a metadata sync of one data source",
		Long: `Runs a metadata sync of one data source and waits for it to finish.
With --queue the run is only queued for a worker to pick up.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := parseUUID("tenant", tenant)
			if err != nil {
				return err
			}
			dsID, err := parseUUID("data-source", dataSource)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if queue {
					return queueRun(ctx, cmd, a, tenantID, dsID)
				}
				run, syncErr := a.trigger.Trigger(ctx, tenantID, dsID, services.TriggerOptions{
					Trigger: models.RunTriggerManual,
					Wait:    true,
				})
				if run != nil {
					_ = a.inTenant(ctx, tenantID, func(ctx context.Context) error {
						stored, err := a.runs.GetByID(ctx, tenantID, run.ID)
						if err != nil {
							return err
						}
						return printJSON(cmd.OutOrStdout(), stored)
					})
				}
				return syncErr
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID")
	cmd.Flags().StringVar(&dataSource, "data-source", "", "data source ID")
	cmd.Flags().BoolVar(&queue, "queue", false, "queue the run for a worker instead of running it here")
	return cmd
}

func queueRun(ctx context.Context, cmd *cobra.Command, a *app, tenantID, dsID uuid.UUID) error {
	return a.inTenant(ctx, tenantID, func(ctx context.Context) error {
		run := &models.ConnectorRun{
			TenantID:     tenantID,
			DataSourceID: dsID,
			RunType:      models.RunTypeMetadata,
			Trigger:      models.RunTriggerAPI,
			Status:       models.RunStatusQueued,
		}
		if err := a.runs.Create(ctx, run); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), run)
	})
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued metadata runs and serve Prometheus metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, func(ctx context.Context, a *app) error {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
					if err := a.db.Ping(r.Context()); err != nil {
						http.Error(w, "catalog store unavailable", http.StatusServiceUnavailable)
						return
					}
					w.WriteHeader(http.StatusOK)
				})
				srv := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

				go func() {
					a.logger.Info("Serving metrics", zap.String("addr", srv.Addr))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("Metrics server failed", zap.Error(err))
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()

				return a.worker.Run(ctx)
			})
		},
	}
}
