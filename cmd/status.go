package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usach-ambiental/piloto-monitor/config"
	"github.com/usach-ambiental/piloto-monitor/database"
	"github.com/usach-ambiental/piloto-monitor/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print today's sensor health summary",
	Long: `Reads the derived health feed for the current day and prints one line
per sensor with its quality tier and maintenance priority.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := database.InitDB(config.AppConfig.Database); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.CloseDB()

	today := todayIn(config.AppConfig.Fetch.Location)
	recs, err := database.GetHealthRecordsForDate(today)
	if err != nil {
		return fmt.Errorf("failed to read health records: %w", err)
	}
	if len(recs) == 0 {
		fmt.Printf("No health records for %s. Run 'piloto-monitor fetch' first.\n", today.Format("2006-01-02"))
		return nil
	}

	working := 0
	fmt.Printf("Sensor health for %s\n", today.Format("2006-01-02"))
	fmt.Println("--------------------------------------------------")
	for _, r := range recs {
		marker := " "
		if r.Priority == models.PriorityCritical {
			marker = "!"
		}
		fmt.Printf("%s Sensor %-6s rows=%-5d quality=%-10s priority=%s\n",
			marker, r.SensorID, r.ValidRows, r.Quality, r.Priority)
		if r.Working {
			working++
		}
	}
	fmt.Println("--------------------------------------------------")
	fmt.Printf("Working today: %d/%d\n", working, len(recs))
	return nil
}
