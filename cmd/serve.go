package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/api"
	"github.com/JakeFAU/alma-bulk/internal/index"
)

func newServeCmd() *cobra.Command {
	var dest, addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index status, unit lookups and metrics over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, root, err := resolveDest(cmd, dest)
			if err != nil {
				return err
			}
			logger := appInstance.GetLogger().Named("api")
			store, err := appInstance.OpenIndex(cmd.Context(), index.DBPath(root, ""), logger)
			if err != nil {
				return err
			}
			defer closeStore(store, logger)

			if addr == "" {
				addr = appInstance.GetConfig().Server.Addr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewServer(store, logger).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()
			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server started", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
					stop()
				}
			}()

			<-ctx.Done()
			logger.Info("shutdown initiated")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
			}
			select {
			case err := <-errCh:
				return err
			default:
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "destination root (overrides paths.dest)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
