package main

import (
	"os"

	"github.com/usach-ambiental/piloto-monitor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
