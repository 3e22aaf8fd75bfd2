package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usach-ambiental/piloto-monitor/config"
	"github.com/usach-ambiental/piloto-monitor/database"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run a single fetch cycle and exit",
	Long: `Runs one complete probe -> list -> fetch -> validate -> recompute cycle
against the configured remote server, prints a summary, and exits non-zero
when the cycle had errors.`,
	RunE: runFetch,
}

func runFetch(cmd *cobra.Command, args []string) error {
	if err := database.InitDB(config.AppConfig.Database); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.CloseDB()

	cycle, _, err := buildPipeline()
	if err != nil {
		return err
	}

	c := cycle.Run(context.Background())

	fmt.Println("==================================================")
	fmt.Println("PILOTO FETCH CYCLE SUMMARY")
	fmt.Println("==================================================")
	fmt.Printf("Cycle ID:          %s\n", c.ID)
	fmt.Printf("Server reachable:  %v\n", c.Reachable)
	if !c.Reachable {
		fmt.Printf("Cause:             %s\n", c.ReachabilityCause)
	}
	fmt.Printf("Files discovered:  %d\n", c.FilesDiscovered)
	fmt.Printf("Files new:         %d\n", c.FilesNew)
	fmt.Printf("Files updated:     %d\n", c.FilesUpdated)
	fmt.Printf("Files skipped:     %d\n", c.FilesSkipped)
	fmt.Printf("Files flagged:     %d\n", c.FilesFlagged)
	fmt.Printf("Files failed:      %d\n", c.FilesFailed)
	fmt.Println("==================================================")

	for _, a := range c.Alerts {
		fmt.Printf("ALERT [%s] %s: %s\n", a.Kind, a.Filename, a.Message)
	}
	for _, e := range c.Errors {
		fmt.Printf("ERROR %s\n", e)
	}

	if c.Failed || len(c.Errors) > 0 {
		return fmt.Errorf("fetch cycle completed with %d error(s)", len(c.Errors))
	}
	return nil
}
