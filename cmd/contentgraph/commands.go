package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contentgraph/internal/handler"
	"contentgraph/internal/hub"
	"contentgraph/internal/service"
	"contentgraph/internal/watcher"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newImportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Run one full import",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			result, err := a.sync.RunFullImport(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newApplyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "apply [payload.json]",
		Short: "Apply one incremental update from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				payload []byte
				err     error
			)
			if len(args) == 0 || args[0] == "-" {
				payload, err = io.ReadAll(cmd.InOrStdin())
			} else {
				payload, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()
			if err := requirePersistentStore(a, "apply"); err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			result, err := a.sync.ApplyIncrementalUpdate(ctx, payload)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a snapshot of the stored graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()
			if err := requirePersistentStore(a, "export"); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return a.graph.Export(cmd.Context(), format, w)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "export format: json, yaml or graph")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Apply update payloads dropped into a spool directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()
			if err := requirePersistentStore(a, "watch"); err != nil {
				return err
			}
			if dir == "" {
				dir = a.cfg.Spool.Dir
			}
			if dir == "" {
				return errors.New("no spool directory: set spool.dir or --dir")
			}

			ctx, cancel := signalContext()
			defer cancel()

			err = newSpoolWatcher(a, dir).Watch(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "spool directory (default spool.dir)")
	return cmd
}

// requirePersistentStore rejects the memory store for commands that only
// read or write the store and exit, leaving nothing behind
func requirePersistentStore(a *app, command string) error {
	if a.cfg.Store.Driver == "memory" {
		return fmt.Errorf("%s requires a persistent store (store.driver: sqlite)", command)
	}
	return nil
}

func newSpoolWatcher(a *app, dir string) *watcher.Watcher {
	return watcher.New(dir, func(ctx context.Context, payload []byte) error {
		_, err := a.sync.ApplyIncrementalUpdate(ctx, payload)
		return err
	}, a.logger)
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var noInitial bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook and query API, importing on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()
			return serve(a, !noInitial)
		},
	}
	cmd.Flags().BoolVar(&noInitial, "no-initial-import", false, "skip the import at startup (POST /api/sync still works)")
	return cmd
}

func serve(a *app, initialImport bool) error {
	ctx, cancel := signalContext()
	defer cancel()
	logger := a.logger

	sseHub := hub.New(logger)
	scheduler := service.NewScheduler(a.sync, a.cfg.PollInterval.Duration(), logger).WithInitialRun(initialImport)

	router := handler.NewRouter(handler.RouterConfig{
		Graph:   a.graph,
		Updater: a.sync,
		Trigger: scheduler,
		Events:  sseHub,
		Metrics: a.metrics,
		Secret:  a.cfg.Webhook.Secret,
		Logger:  logger,
	})
	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sseHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sseHub.Forward(gctx, a.sync.Events())
		return nil
	})
	scheduler.Start(gctx)
	if a.cfg.Spool.Dir != "" {
		g.Go(func() error {
			err := newSpoolWatcher(a, a.cfg.Spool.Dir).Watch(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		scheduler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	logger.Info("server stopped")
	return err
}
