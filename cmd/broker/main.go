package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UKPLab/CARE-broker/internal/app"
	"github.com/UKPLab/CARE-broker/internal/config"
	"github.com/UKPLab/CARE-broker/internal/logging"
	"github.com/UKPLab/CARE-broker/internal/roles"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "broker",
		Short:         "Skill broker between CARE clients and NLP providers",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults to $BROKER_CONFIG)")
	root.AddCommand(serveCmd(), scrubCmd(), assignCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config and builds the application around it.
func setup(ctx context.Context) (*app.App, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return a, logger, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket broker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, logger, err := setup(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn("cleanup failed", zap.Error(err))
				}
			}()

			if err := a.Prepare(ctx); err != nil {
				return err
			}
			logger.Info("broker starting",
				zap.String("addr", a.Config.BindAddr),
				zap.String("store", a.Config.Store.Driver),
				zap.Bool("task_killer", a.Config.TaskKiller.Enabled),
			)
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-hup:
						if _, err := a.ReloadQuota(configPath); err != nil {
							logger.Warn("quota reload failed", zap.Error(err))
						}
					}
				}
			}()

			if err := a.Run(ctx); err != nil {
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}

func scrubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrub",
		Short: "Delete expired terminal tasks once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, logger, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()

			n, err := a.Tasks.Scrub(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d tasks\n", n)
			return nil
		},
	}
}

func assignCmd() *cobra.Command {
	var key, role string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Set the role stored for a public key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key = strings.TrimSpace(key)
			if key == "" {
				return fmt.Errorf("--key is required")
			}
			if !roles.Valid(role) {
				return fmt.Errorf("unknown role %q (expected %s)", role, strings.Join(roles.Names, "|"))
			}
			a, logger, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()

			u, err := a.Users.SetUserRole(cmd.Context(), key, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", u.Key, u.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "hex-encoded public key")
	cmd.Flags().StringVar(&role, "role", roles.User, "role to assign")
	return cmd
}
