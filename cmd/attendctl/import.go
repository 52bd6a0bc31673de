package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"classtrack/internal/export"
	"classtrack/internal/localstore"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the guest ledger with an exported JSON document",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	snap, err := export.FromJSON(data)
	if err != nil {
		return err
	}
	if err := localstore.New(storePath).Save(snap); err != nil {
		return err
	}
	fmt.Printf("imported %d subjects, %d records\n", len(snap.Subjects), len(snap.Records))
	return nil
}
