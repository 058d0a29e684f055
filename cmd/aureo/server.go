package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aureopos/aureo/internal/api"
	"github.com/aureopos/aureo/internal/config"
	"github.com/aureopos/aureo/internal/events"
	"github.com/aureopos/aureo/internal/pipeline"
	"github.com/aureopos/aureo/internal/storage"
	"github.com/aureopos/aureo/internal/watcher"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ingestion service (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the service is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Sweep the watch directories once and process what is found",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stdout, "aureo version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	hub := events.NewHub()
	proc := pipeline.NewProcessor(store, hub)

	// The config KV is the runtime source of truth for watch settings; the
	// static config only seeds the first run.
	excelDir := configValue(store, "EXCEL_WATCH_DIR", cfg.Watch.ExcelDir)
	pdfDir := configValue(store, "PDF_WATCH_DIR", cfg.Watch.PDFDir)
	enabled := configValue(store, "FILE_PROCESSING_ENABLED", fmt.Sprintf("%t", cfg.Watch.ProcessingEnabled)) == "true"

	coord := watcher.New(store, proc, hub, excelDir, pdfDir, cfg.Watch.Debounce)
	coord.SetEnabled(enabled)

	handler := api.NewHandler(api.Deps{
		Store:       store,
		Coordinator: coord,
		Processor:   proc,
		Events:      hub.Handler(),
		Token:       cfg.Server.Token,
		ExcelDir:    excelDir,
		PDFDir:      pdfDir,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(ctx)
	})
	g.Go(func() error {
		fmt.Fprintf(os.Stdout, "aureo listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		fmt.Fprintln(os.Stdout, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// configValue prefers the persisted system_config value over the static
// default.
func configValue(store *storage.Store, key, fallback string) string {
	if v, err := store.GetConfigValue(key); err == nil && v != "" {
		return v
	}
	return fallback
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Server.Port))
	if err != nil {
		fmt.Fprintln(os.Stdout, "aureo is not running")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Fprintf(os.Stdout, "aureo is running on port %d\n", cfg.Server.Port)
	} else {
		fmt.Fprintf(os.Stdout, "aureo responded with status %d\n", resp.StatusCode)
	}
	return nil
}

func runScan() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	proc := pipeline.NewProcessor(store, pipeline.NopNotifier{})
	coord := watcher.New(store, proc, watcher.NopNotifier{}, cfg.Watch.ExcelDir, cfg.Watch.PDFDir, cfg.Watch.Debounce)

	if err := coord.RebuildRegistry(); err != nil {
		return err
	}
	if err := coord.ScanOnce(); err != nil {
		return err
	}
	coord.Wait()

	fmt.Fprintln(os.Stdout, "scan complete")
	return nil
}
