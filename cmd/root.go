package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/usach-ambiental/piloto-monitor/archive"
	"github.com/usach-ambiental/piloto-monitor/config"
	"github.com/usach-ambiental/piloto-monitor/database"
	"github.com/usach-ambiental/piloto-monitor/scraper"
	"github.com/usach-ambiental/piloto-monitor/services"
	"github.com/usach-ambiental/piloto-monitor/validator"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "piloto-monitor",
	Short: "USACH Piloto sensor data synchronization service",
	Long: `piloto-monitor mirrors Piloto particulate sensor files from the remote
file server into a durable local archive, validates them, and derives a
per-sensor daily health status for the maintenance team.

Configuration is loaded from config.yaml with .env / environment overrides.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadConfig(configPath)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml (default: standard locations)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(statusCmd)
}

// buildPipeline assembles the fetch pipeline from the loaded configuration.
// Shared by serve and fetch.
func buildPipeline() (*services.CycleService, *archive.Archive, error) {
	cfg := config.AppConfig

	arch, err := archive.New(cfg.Archive.Root)
	if err != nil {
		return nil, nil, err
	}
	arch.CleanupTemp()

	loc := cfg.Fetch.Location
	val := validator.New(loc)
	probe := scraper.NewProbe(cfg.Remote.BaseURL, cfg.Remote.UserAgent, cfg.Remote.ProbeTimeout)
	lister := scraper.NewLister(cfg.Remote.BaseURL, cfg.Remote.UserAgent, cfg.Remote.RequestTimeout, loc, cfg.Fetch.CurrentMonthOnly)
	fetcher := scraper.NewFetcher(cfg.Remote.UserAgent, cfg.Remote.DownloadTimeout, arch, cfg.Fetch.RetryAttempts, loc)
	health := services.NewHealthService(arch, val, loc)

	cycle := services.NewCycleService(probe, lister, fetcher, val, health, database.Store{}, loc)
	return cycle, arch, nil
}

func todayIn(loc *time.Location) time.Time {
	y, m, d := time.Now().In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
