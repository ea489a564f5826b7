package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/coursegen/internal/freeze"
)

var freezeCmd = &cobra.Command{
	Use:     "freeze",
	Aliases: []string{"f"},
	Short:   "Write a static snapshot of the whole site",
	Long: `Crawl every reachable page of the rendered site and write it to the
output directory. Discovery combines the static route table, URL-builder
invocations recorded while pages render, and links harvested from HTML that
delegated repositories produced.

A hard failure (unexpected HTTP status, or a fork failure in strict mode)
aborts the run; already written files stay on disk and a re-run picks up
where it left off.`,
	RunE: runFreeze,
}

func init() {
	rootCmd.AddCommand(freezeCmd)

	freezeCmd.Flags().StringP("output", "o", "", "output directory")
	freezeCmd.Flags().Bool("skip-existing", false, "do not refetch pages whose files already exist")
	freezeCmd.Flags().Bool("ignore-404", false, "log missing pages instead of aborting")
	_ = viper.BindPFlag("freeze.output_dir", freezeCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("freeze.skip_existing", freezeCmd.Flags().Lookup("skip-existing"))
	_ = viper.BindPFlag("freeze.ignore_404", freezeCmd.Flags().Lookup("ignore-404"))
}

func runFreeze(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	freezer := freeze.New(app.server.Handler(), app.server.URLBuilder(), freeze.Options{
		OutputDir:    app.cfg.Freeze.OutputDir,
		SkipExisting: app.cfg.Freeze.SkipExisting,
		BaseURL:      app.cfg.Freeze.BaseURL,
		Ignore404:    app.cfg.Freeze.Ignore404,
		Redirects:    freeze.RedirectPolicy(app.cfg.Freeze.RedirectPolicy),
	}, app.log)

	count, err := freezer.Run(ctx, app.server.StaticRoutes())
	if err != nil {
		return err
	}
	app.log.Info(ctx, "freeze complete", "files", count, "output", app.cfg.Freeze.OutputDir)
	return nil
}
