package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tripweave",
	Short: "tripweave turns a trip request into a staged trip plan",
	Long: `tripweave runs a validated trip request through a graph of reasoning
stages, enriched with live flight, lodging, activity, and weather data,
and writes the assembled plan as a single JSON document.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// API keys come from the environment; a local .env is a convenience,
	// not a requirement.
	_ = godotenv.Load()
}
