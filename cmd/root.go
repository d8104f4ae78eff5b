// Package cmd defines and implements the CLI commands for the alma-bulk executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/app"
	"github.com/JakeFAU/alma-bulk/internal/config"
	"github.com/JakeFAU/alma-bulk/internal/index"
	"github.com/JakeFAU/alma-bulk/internal/mous"
	"github.com/JakeFAU/alma-bulk/internal/pipeline"
	pkgconfig "github.com/JakeFAU/alma-bulk/pkg/config"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a different app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
	NewRun(command, shardID string) (mous.RunContext, *zap.Logger, error)
	OpenIndex(ctx context.Context, path string, logger *zap.Logger) (*index.Store, error)
	Runner(opts app.RunnerOptions, logger *zap.Logger) (*pipeline.Runner, error)
}

// newApp is the application factory. It's a variable so tests can
// replace it.
var newApp = func(cfg config.Config) (App, error) {
	return app.NewApp(cfg)
}

// newRootCmd creates and configures the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "alma-bulk",
		Short: "Bulk acquisition and cataloguing of ALMA member observation units.",
		Long: `alma-bulk downloads the deliverables of ALMA member observation unit sets,
unpacks their archives safely, and folds per-unit metadata into sharded
SQLite indexes that can later be merged into one central catalogue.`,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Loads configuration and injects the application before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := pkgconfig.InitConfig(v, cfgFile, nil); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, /etc/alma-bulk or $HOME/.alma-bulk)")

	cmd.AddCommand(
		newDownloadCmd(),
		newUnpackCmd(),
		newRunShardCmd(),
		newMergeIndexCmd(),
		newScanCmd(),
		newPlanCmd(),
		newStatusCmd(),
		newServeCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// resolveDest returns the app and the destination root, preferring the --dest flag.
func resolveDest(cmd *cobra.Command, dest string) (App, string, error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return nil, "", err
	}
	root, err := appInstance.GetConfig().Dest(dest)
	if err != nil {
		return nil, "", err
	}
	return appInstance, root, nil
}

func closeStore(store *index.Store, logger *zap.Logger) {
	if err := store.Close(); err != nil {
		logger.Warn("Failed to close index store", zap.String("path", store.Path()), zap.Error(err))
	}
}
