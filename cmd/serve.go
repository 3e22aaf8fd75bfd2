package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/usach-ambiental/piloto-monitor/config"
	"github.com/usach-ambiental/piloto-monitor/database"
	"github.com/usach-ambiental/piloto-monitor/handlers"
	"github.com/usach-ambiental/piloto-monitor/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background fetch scheduler and the JSON API",
	Long: `Starts the periodic fetch scheduler (one cycle per configured interval)
and serves the operation log and derived health feed over HTTP for the
dashboard and alerting consumers.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.AppConfig
	log.Println("Starting Piloto Monitor backend...")

	if err := database.InitDB(cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.CloseDB()

	cycle, _, err := buildPipeline()
	if err != nil {
		return err
	}

	sched := services.NewScheduler(cfg.Fetch.Interval, cycle)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	// Drain cycle results so slow API consumers never block the pipeline.
	go func() {
		for c := range sched.Results() {
			if c.Failed {
				log.Printf("WARN Serve: cycle %s failed with %d error(s)", c.ID, len(c.Errors))
			}
		}
	}()

	handlers.Init(sched, cfg.Fetch.Location)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", handlers.HealthCheckHandler)
	mux.HandleFunc("/api/sensors/status", handlers.SensorStatusHandler)
	mux.HandleFunc("/api/cycles/recent", handlers.RecentCyclesHandler)
	mux.HandleFunc("/api/admin/fetch", handlers.ForceFetchHandler)

	server := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on http://localhost%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		sched.Stop()
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		log.Printf("Received %s, shutting down...", sig)
	}

	// Stop admitting requests (including manual fetch triggers) first, then
	// let the in-flight cycle finish its current file operation.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Remote.DownloadTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN Serve: HTTP shutdown error: %v", err)
	}
	sched.Stop()
	return nil
}
