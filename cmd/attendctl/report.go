package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"classtrack/internal/ledger"
	"classtrack/internal/localstore"
)

var reportFormat string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show per-subject attendance with at-risk banding",
	Args:  cobra.NoArgs,
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFormat, "format", "md", "Output format: md, csv, json")
}

func runReport(cmd *cobra.Command, args []string) error {
	snap, err := localstore.New(storePath).Load()
	if err != nil {
		return err
	}
	l := ledger.New()
	l.Restore(snap)
	rows := l.Report()

	switch reportFormat {
	case "json":
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "csv":
		fmt.Println("subject,attended,held,percentage,target,band")
		for _, row := range rows {
			fmt.Printf("%s,%d,%d,%.2f,%.0f,%s\n",
				row.SubjectName, row.Stats.ClassesAttended, row.Stats.ClassesHeld,
				row.Stats.Percentage, row.TargetPercent, row.Band)
		}
	case "md":
		fmt.Println("| Subject | Attended | Held | % | Target | Band |")
		fmt.Println("|---------|---------:|-----:|--:|-------:|------|")
		for _, row := range rows {
			fmt.Printf("| %s | %d | %d | %.1f | %.0f | %s |\n",
				row.SubjectName, row.Stats.ClassesAttended, row.Stats.ClassesHeld,
				row.Stats.Percentage, row.TargetPercent, row.Band)
		}
	default:
		return fmt.Errorf("unknown format %q (want md, csv or json)", reportFormat)
	}
	return nil
}
