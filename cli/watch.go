package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/reposcope/reposcope/engine"
	"github.com/reposcope/reposcope/registry"
	"github.com/reposcope/reposcope/server"
	"github.com/reposcope/reposcope/watcher"
)

var (
	serveAddr  string
	serveWatch bool

	watchBackground backgroundFlags
	serveBackground backgroundFlags
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep indexed repositories fresh as files change",
	Long: `Watch every indexed repository for file changes. A change marks the
repository stale; once changes settle the repository is rebuilt and the new
index replaces the old one atomically.

Stop with Ctrl+C, or run it detached with --background and stop it later
with --stop.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON HTTP API",
	Long: `Serve list, index, remove, search and chat over HTTP:

  GET    /api/repositories
  POST   /api/repositories/index   {"repo_dirs": [...]}
  DELETE /api/repositories/{id}
  POST   /api/search               {"repos": [...], "query": "...", "k": 10}
  POST   /api/chat                 {"repos": [...], "question": "...", "analysis_type": "..."}
  GET    /healthz

With --watch, indexed repositories are kept fresh while serving. Use
--background, --status and --stop to run the server detached.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", false, "Also watch indexed repositories for changes")
	watchBackground.register(watchCmd)
	serveBackground.register(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
}

func newManager(cmd *cobra.Command, eng *engine.Engine) *watcher.Manager {
	m := watcher.NewManager(eng, eng.Config())
	m.OnRefresh = func(results []registry.RefreshResult) {
		printRefreshResults(cmd.OutOrStdout(), results)
	}
	return m
}

func runWatch(cmd *cobra.Command, args []string) error {
	d, err := newDaemon("watch")
	if err != nil {
		return err
	}
	if handled, err := controlBackground(cmd.OutOrStdout(), d, "watch", &watchBackground); handled {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	ctx, ready, cleanup, err := detach(ctx, d)
	if err != nil {
		return err
	}
	defer cleanup()

	eng, err := openEngine(ctx, engine.Options{})
	if err != nil {
		return err
	}
	defer eng.Close()
	if err := ready(); err != nil {
		return err
	}

	if len(eng.ListRepositories()) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No repositories indexed yet; newly indexed ones are picked up automatically.")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Watching %d repositories. Press Ctrl+C to stop.\n", len(eng.ListRepositories()))
	}
	return newManager(cmd, eng).Run(ctx)
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := newDaemon("serve")
	if err != nil {
		return err
	}
	if handled, err := controlBackground(cmd.OutOrStdout(), d, "serve", &serveBackground); handled {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	ctx, ready, cleanup, err := detach(ctx, d)
	if err != nil {
		return err
	}
	defer cleanup()

	eng, err := openEngine(ctx, engine.Options{})
	if err != nil {
		return err
	}
	defer eng.Close()

	cfg := eng.Config().Server
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	srv := server.New(eng, cfg, logger)

	if err := ready(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if serveWatch {
		m := newManager(cmd, eng)
		g.Go(func() error {
			return m.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
