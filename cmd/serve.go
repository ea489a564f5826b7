package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/coursegen/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the course server",
	Long: `Start the HTTP server rendering courses from canonical data and from
delegated fork repositories. In debug mode the content directory is watched
and the model reloads on change.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "bind address")
	serveCmd.Flags().IntP("port", "p", 0, "listen port")
	serveCmd.Flags().Bool("debug", false, "disable caching freezes and reload content on change")
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("development.debug", serveCmd.Flags().Lookup("debug"))
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if app.cfg.Development.Debug {
		w, err := watcher.New(app.cfg.Content.RepoDir, app.reload, 0, app.log)
		if err != nil {
			return fmt.Errorf("starting content watcher: %w", err)
		}
		defer w.Stop()
		w.Start(ctx)
	}

	addr := fmt.Sprintf("%s:%d", app.cfg.Server.Host, app.cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           app.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.log.Info(ctx, "server listening", "addr", addr, "debug", app.cfg.Development.Debug)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	app.log.Info(context.Background(), "server stopped")
	return nil
}
