package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/abforge/abforge/internal/dataset"
	"github.com/abforge/abforge/internal/store"
)

var (
	exportFormat string
	exportTable  string
	exportAll    bool
	exportDir    string
)

var tableNames = []string{"experiment_info", "attribution_windows", "website_traffic", "experiment_traffic", "conversion_events"}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the generated tables",
	Long: `Export the generated dataset as flat delimited tables with a header
row, one row per entity.

Examples:
  abforge export --table website_traffic > traffic.csv
  abforge export --table conversion_events --format json
  abforge export --all --out ./dataset/`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "F", "csv", "output format (csv or json)")
	exportCmd.Flags().StringVarP(&exportTable, "table", "t", "", "table to export")
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "export every table")
	exportCmd.Flags().StringVarP(&exportDir, "out", "o", "", "directory to write files to (default stdout)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}
	if !exportAll && exportTable == "" {
		return fmt.Errorf("pick a table with --table or pass --all")
	}
	if exportAll && exportDir == "" {
		return fmt.Errorf("--all needs --out to write one file per table")
	}

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		if _, err := s.LatestRun(ctx); err != nil {
			if err == store.ErrNoRun {
				return fmt.Errorf("no dataset generated yet; run 'abforge generate' first")
			}
			return err
		}

		ds, err := s.LoadDataset(ctx)
		if err != nil {
			return err
		}

		tables := []string{exportTable}
		if exportAll {
			tables = tableNames
		}

		for _, table := range tables {
			if exportDir == "" {
				if err := exportOne(os.Stdout, table, ds); err != nil {
					return err
				}
				continue
			}
			if err := os.MkdirAll(exportDir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			f, err := os.Create(filepath.Join(exportDir, table+"."+exportFormat))
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			if err := exportOne(f, table, ds); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
		return nil
	})
}

func exportOne(w io.Writer, table string, ds *dataset.Dataset) error {
	header, rows, err := tableRows(table, ds)
	if err != nil {
		return err
	}
	if exportFormat == "csv" {
		return writeCSV(w, header, rows)
	}
	return writeJSON(w, header, rows)
}

// tableRows flattens one table into a header plus string rows, CSV-ready.
func tableRows(table string, ds *dataset.Dataset) ([]string, [][]string, error) {
	switch table {
	case "experiment_info":
		rows := make([][]string, len(ds.ExperimentInfo))
		for i, r := range ds.ExperimentInfo {
			rows[i] = []string{r.ExperimentID, r.Variation, strconv.FormatBool(r.IsControl)}
		}
		return []string{"experiment_id", "variation", "is_control"}, rows, nil
	case "attribution_windows":
		rows := make([][]string, len(ds.AttributionWindows))
		for i, r := range ds.AttributionWindows {
			rows[i] = []string{r.ExperimentID, r.MetricID, strconv.Itoa(r.WindowDays)}
		}
		return []string{"experiment_id", "metric_id", "attribution_window"}, rows, nil
	case "website_traffic":
		rows := make([][]string, len(ds.WebsiteTraffic))
		for i, r := range ds.WebsiteTraffic {
			rows[i] = []string{strconv.FormatInt(r.UserID, 10), strconv.FormatInt(r.VisitDate.Unix(), 10), r.Path}
		}
		return []string{"user_id", "visit_date", "path"}, rows, nil
	case "experiment_traffic":
		rows := make([][]string, len(ds.ExperimentTraffic))
		for i, r := range ds.ExperimentTraffic {
			rows[i] = []string{
				strconv.FormatInt(r.UserID, 10),
				strconv.FormatInt(r.EnrolledAt.Unix(), 10),
				r.Path,
				r.ExperimentID,
				r.Variation,
			}
		}
		return []string{"user_id", "first_joined_experiment", "path", "experiment_id", "variation"}, rows, nil
	case "conversion_events":
		rows := make([][]string, len(ds.ConversionEvents))
		for i, r := range ds.ConversionEvents {
			rows[i] = []string{strconv.FormatInt(r.UserID, 10), r.MetricID, strconv.FormatInt(r.ConvertedAt.Unix(), 10)}
		}
		return []string{"user_id", "metric_id", "conversion_date"}, rows, nil
	default:
		return nil, nil, fmt.Errorf("unknown table %q (want one of %v)", table, tableNames)
	}
}

func writeCSV(out io.Writer, header []string, rows [][]string) error {
	w := csv.NewWriter(out)
	defer w.Flush()

	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return nil
}

func writeJSON(out io.Writer, header []string, rows [][]string) error {
	records := make([]map[string]string, len(rows))
	for i, row := range rows {
		rec := make(map[string]string, len(header))
		for j, col := range header {
			rec[col] = row[j]
		}
		records[i] = rec
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}
