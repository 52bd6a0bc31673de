package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"classtrack/internal/export"
	"classtrack/internal/localstore"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the guest ledger to stdout",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format: json, csv")
}

func runExport(cmd *cobra.Command, args []string) error {
	snap, err := localstore.New(storePath).Load()
	if err != nil {
		return err
	}

	var data []byte
	switch exportFormat {
	case "json":
		data, err = export.JSON(snap)
	case "csv":
		data, err = export.CSV(snap)
	default:
		return fmt.Errorf("unknown format %q (want json or csv)", exportFormat)
	}
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
