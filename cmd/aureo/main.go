package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "aureo",
	Short: "Retail drop ingestion and watchlist screening service",
}

func main() {
	rootCmd.AddCommand(startCmd, statusCmd, scanCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
