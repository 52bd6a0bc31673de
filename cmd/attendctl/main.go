// attendctl inspects and converts the guest attendance ledger stored
// as a JSON file on disk, without talking to the API server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"classtrack/internal/config"
)

var storePath string

var rootCmd = &cobra.Command{
	Use:   "attendctl",
	Short: "Attendance ledger tooling for the local guest store",
	Long: `attendctl works directly on the guest ledger file. Use it to
export attendance data, import a previously exported document, or print
an at-risk report without a server round trip.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cfg := config.Load()
	rootCmd.PersistentFlags().StringVar(&storePath, "store", cfg.GuestStorePath, "Path to the guest ledger file")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(reportCmd)
}
